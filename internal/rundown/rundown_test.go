package rundown

import (
	"bytes"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_graphics/internal/broadcast"
	"github.com/friendsincode/grimnir_graphics/internal/events"
	"github.com/friendsincode/grimnir_graphics/internal/playback"
	"github.com/friendsincode/grimnir_graphics/internal/rcvalues"
)

type testEnv struct {
	r      *Rundown
	mgr    *playback.Manager
	loader *playback.SimulatedLoader
	bus    *events.Bus
	reg    *broadcast.Registry
}

func newTestEnv(t *testing.T, settings Settings) *testEnv {
	t.Helper()
	bus := events.NewBus()
	loader := playback.NewSimulatedLoader(nil, 0)
	mgr := playback.NewManager(loader, nil, bus, zerolog.Nop())
	reg := broadcast.NewRegistry(zerolog.Nop(), bus)
	reg.Apply(broadcast.DefaultProfile(DefaultPreviewChannel))
	r := New(Context{
		Manager:  mgr,
		Channels: reg,
		Bus:      bus,
		Logger:   zerolog.Nop(),
	}, settings)
	return &testEnv{r: r, mgr: mgr, loader: loader, bus: bus, reg: reg}
}

func lowerThird(layer string) Page {
	v := rcvalues.New()
	v.SetEntity("Name", "Ada")
	return Page{
		Name:               "Lower " + layer,
		Channel:            "Program",
		Enabled:            true,
		AssetPath:          "/Game/Lower_" + layer + ".lower",
		TransitionLayer:    layer,
		HasTransitionLogic: true,
		Values:             v,
	}
}

func fullscreen() Page {
	return Page{
		Name:      "Fullscreen",
		Channel:   "Program",
		Enabled:   true,
		AssetPath: "/Game/Full.full",
		Values:    rcvalues.New(),
	}
}

func TestTemplateInstanceAndRemoveWhilePlaying(t *testing.T) {
	env := newTestEnv(t, Settings{})
	r := env.r

	tmpl := r.AddTemplate(lowerThird("lower"), IDParams{ReferenceID: 5, Increment: 1})
	if tmpl != 5 {
		t.Fatalf("expected template id 5, got %d", tmpl)
	}
	id, err := r.AddPageFromTemplate(tmpl, IDParams{ReferenceID: 5, Increment: 1}, AppendPosition)
	if err != nil {
		t.Fatalf("instance: %v", err)
	}
	if id != 6 {
		t.Fatalf("expected instance id 6, got %d", id)
	}
	page := r.Page(id)
	if page.TemplateID != tmpl || page.AssetPath != "" || page.IsTemplate() {
		t.Fatalf("unexpected instance %+v", page)
	}
	if got := r.Templates().Get(tmpl).Instances; len(got) != 1 || got[0] != id {
		t.Fatalf("template instances = %v", got)
	}

	if played := r.PlayPages([]int{id}, PlayFromStart, ""); len(played) != 1 {
		t.Fatalf("expected page to play, got %v", played)
	}
	if !r.IsPagePlaying(id) {
		t.Fatal("expected page playing")
	}
	if r.CanRemovePages([]int{tmpl}) {
		t.Fatal("template of a playing instance must not be removable")
	}
	if n := r.RemovePages([]int{id}); n != 0 {
		t.Fatalf("expected removal refused, removed %d", n)
	}

	if stopped := r.StopPages([]int{id}, StopOptions{ForceNoTransition: true}, false, ""); len(stopped) != 1 {
		t.Fatalf("expected page stopped, got %v", stopped)
	}
	if r.IsPagePlaying(id) {
		t.Fatal("expected page stopped")
	}
	if n := r.RemovePages([]int{tmpl}); n != 2 {
		t.Fatalf("expected template and instance removed, got %d", n)
	}
	if !r.IsEmpty() {
		t.Fatal("expected empty rundown")
	}
}

func TestGenerateUniquePageID(t *testing.T) {
	env := newTestEnv(t, Settings{})
	r := env.r

	seen := map[int]bool{}
	for i := 0; i < 5; i++ {
		id := r.AddTemplate(fullscreen(), IDParams{ReferenceID: 10, Increment: 1})
		if seen[id] {
			t.Fatalf("id %d handed out twice", id)
		}
		seen[id] = true
	}
	if !seen[10] || !seen[14] {
		t.Fatalf("expected ids 10..14, got %v", seen)
	}

	down := r.GenerateUniquePageID(IDParams{ReferenceID: 12, Increment: -1})
	if down != 9 {
		t.Fatalf("expected 9 walking down, got %d", down)
	}

	r.AddTemplate(fullscreen(), IDParams{ReferenceID: 0})
	if got := r.GenerateUniquePageID(IDParams{ReferenceID: 0, Increment: -1}); got < 0 || !r.IsPageIDUnique(got) {
		t.Fatalf("expected a free non-negative id, got %d", got)
	}
}

func TestRenumberPropagates(t *testing.T) {
	env := newTestEnv(t, Settings{})
	r := env.r

	tmpl := r.AddTemplate(lowerThird("lower"), IDParams{ReferenceID: 1})
	id, _ := r.AddPageFromTemplate(tmpl, IDParams{ReferenceID: 100}, AppendPosition)
	sl := r.AddSubList("Show")
	if _, err := r.AddPagesToSubList(sl.ID, []int{id}); err != nil {
		t.Fatalf("sublist: %v", err)
	}

	if !r.RenumberPageID(tmpl, 50) {
		t.Fatal("expected template renumber")
	}
	if r.Page(id).TemplateID != 50 {
		t.Fatalf("instance still points at %d", r.Page(id).TemplateID)
	}
	if !r.RenumberPageID(id, 200) {
		t.Fatal("expected instance renumber")
	}
	if got := r.Templates().Get(50).Instances; len(got) != 1 || got[0] != 200 {
		t.Fatalf("template instances = %v", got)
	}
	if !r.SubList(sl.ID).Contains(200) || r.SubList(sl.ID).Contains(id) {
		t.Fatalf("sublist not renumbered: %v", r.SubList(sl.ID).PageIDs)
	}
	if r.RenumberPageID(200, 50) {
		t.Fatal("renumber onto a taken id must fail")
	}
}

func TestChangePageOrderAndNextPage(t *testing.T) {
	env := newTestEnv(t, Settings{})
	r := env.r

	tmpl := r.AddTemplate(fullscreen(), IDParams{ReferenceID: 0})
	ids := r.AddPagesFromTemplates([]int{tmpl, tmpl, tmpl})
	if len(ids) != 3 || ids[0] != 1 || ids[2] != 3 {
		t.Fatalf("unexpected ids %v", ids)
	}

	if err := r.ChangePageOrder(Instances, []int{3, 1}); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if got := r.Instances().IDs(); got[0] != 3 || got[1] != 1 || got[2] != 2 {
		t.Fatalf("unexpected order %v", got)
	}
	if err := r.ChangePageOrder(Instances, []int{99}); !errors.Is(err, ErrInvalidPage) {
		t.Fatalf("expected invalid page, got %v", err)
	}

	if next := r.NextPage(2, Instances); next != 3 {
		t.Fatalf("expected wrap to 3, got %d", next)
	}
	if err := r.SetPageChannel(1, "Other"); err != nil {
		t.Fatalf("set channel: %v", err)
	}
	if next := r.NextPage(3, Instances); next != 2 {
		t.Fatalf("expected page on another channel skipped, got %d", next)
	}
}

func TestComboValidation(t *testing.T) {
	env := newTestEnv(t, Settings{})
	r := env.r

	a := r.AddTemplate(lowerThird("lower"), IDParams{ReferenceID: 1})
	bPage := lowerThird("logo")
	bPage.Values = rcvalues.New()
	bPage.Values.SetEntity("Logo", "on")
	b := r.AddTemplate(bPage, IDParams{ReferenceID: 2})
	sameLayer := r.AddTemplate(lowerThird("lower"), IDParams{ReferenceID: 3})
	noLogic := r.AddTemplate(fullscreen(), IDParams{ReferenceID: 4})

	cases := []struct {
		name string
		ids  []int
		ok   bool
	}{
		{"valid", []int{a, b}, true},
		{"unknown", []int{a, 99}, false},
		{"duplicate layer", []int{a, sameLayer}, false},
		{"no transition logic", []int{a, noLogic}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := r.ValidateTemplateIDsForComboTemplate(tc.ids)
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrComboTemplate) {
				t.Fatalf("expected combo error, got %v", err)
			}
		})
	}

	combo, err := r.AddComboTemplate([]int{a, b}, IDParams{ReferenceID: 10})
	if err != nil {
		t.Fatalf("combo: %v", err)
	}
	if r.NumTemplates(r.Page(combo)) != 2 || !r.HasTransitionLogic(r.Page(combo)) {
		t.Fatal("expected two sub-templates with transition logic")
	}
	if err := r.ValidateTemplateIDsForComboTemplate([]int{combo, a}); !errors.Is(err, ErrComboTemplate) {
		t.Fatalf("combo of combo must fail, got %v", err)
	}
}

func TestSubLists(t *testing.T) {
	env := newTestEnv(t, Settings{})
	r := env.r

	tmpl := r.AddTemplate(fullscreen(), IDParams{ReferenceID: 0})
	ids := r.AddPagesFromTemplates([]int{tmpl, tmpl, tmpl})
	sl := r.AddSubList("Segment")

	added, err := r.AddPagesToSubList(sl.ID, []int{ids[2], ids[0], tmpl})
	if err != nil {
		t.Fatalf("add to sublist: %v", err)
	}
	if len(added) != 2 {
		t.Fatalf("template must not join a sublist, added %v", added)
	}
	if err := r.SetActivePageList(SubListRef(sl.ID)); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if next := r.NextPage(ids[2], r.ActivePageList()); next != ids[0] {
		t.Fatalf("expected sublist order, got %d", next)
	}

	if n, _ := r.RemovePagesFromSubList(sl.ID, []int{ids[0]}); n != 1 {
		t.Fatalf("expected one removed, got %d", n)
	}
	r.RemovePages([]int{ids[2]})
	if r.SubList(sl.ID).Contains(ids[2]) {
		t.Fatal("removed page still in sublist")
	}
	if err := r.RemoveSubList(sl.ID); err != nil {
		t.Fatalf("remove sublist: %v", err)
	}
	if r.ActivePageList() != Instances {
		t.Fatal("expected active list reset to instances")
	}
	if err := r.SetActivePageList(Templates); err == nil {
		t.Fatal("template list must not become active")
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	env := newTestEnv(t, Settings{})
	r := env.r
	r.Name = "Evening News"

	tmpl := r.AddTemplate(lowerThird("lower"), IDParams{ReferenceID: 1})
	id, _ := r.AddPageFromTemplate(tmpl, IDParams{ReferenceID: 2}, AppendPosition)
	_ = r.SetPageName(id, "Anchor")
	sl := r.AddSubList("A block")
	_, _ = r.AddPagesToSubList(sl.ID, []int{id})

	var buf bytes.Buffer
	if err := r.Export().WriteYAML(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	doc, err := DecodeDocument(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	other := newTestEnv(t, Settings{}).r
	if err := other.Import(doc); err != nil {
		t.Fatalf("import: %v", err)
	}
	if other.Name != "Evening News" || other.ID != r.ID {
		t.Fatalf("unexpected identity %q %s", other.Name, other.ID)
	}
	p := other.Page(id)
	if p == nil || p.DisplayName() != "Anchor" || p.TemplateID != tmpl {
		t.Fatalf("unexpected page %+v", p)
	}
	if got := other.Templates().Get(tmpl).Instances; len(got) != 1 || got[0] != id {
		t.Fatalf("instances not rebuilt: %v", got)
	}
	if other.SubList(sl.ID) == nil || !other.SubList(sl.ID).Contains(id) {
		t.Fatal("sublist lost")
	}

	doc.Instances = append(doc.Instances, Page{ID: id, TemplateID: tmpl})
	if err := other.Import(doc); !errors.Is(err, ErrPageIDTaken) {
		t.Fatalf("expected duplicate id rejected, got %v", err)
	}
}
