package rundown

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_graphics/internal/barrier"
	"github.com/friendsincode/grimnir_graphics/internal/broadcast"
	"github.com/friendsincode/grimnir_graphics/internal/events"
	"github.com/friendsincode/grimnir_graphics/internal/playback"
	"github.com/friendsincode/grimnir_graphics/internal/rcvalues"
)

func instance(t *testing.T, r *Rundown, tmpl Page, ref int) int {
	t.Helper()
	tid := r.AddTemplate(tmpl, IDParams{ReferenceID: ref})
	id, err := r.AddPageFromTemplate(tid, IDParams{ReferenceID: ref + 1}, AppendPosition)
	if err != nil {
		t.Fatalf("instance: %v", err)
	}
	return id
}

func TestLayerCollisionRejectsSecondPage(t *testing.T) {
	env := newTestEnv(t, Settings{})
	r := env.r

	first := instance(t, r, lowerThird("lower"), 10)
	second := instance(t, r, lowerThird("lower"), 20)

	played := r.PlayPages([]int{first, second}, PlayFromStart, "")
	if len(played) != 1 || played[0] != first {
		t.Fatalf("expected only the first page to play, got %v", played)
	}
	if r.IsPagePlaying(second) {
		t.Fatal("second page must not play")
	}
	if len(env.mgr.Instances()) != 1 {
		t.Fatalf("rejected page must release its instance, have %d", len(env.mgr.Instances()))
	}
}

func TestNonTransitionPageReplacesChannel(t *testing.T) {
	env := newTestEnv(t, Settings{})
	r := env.r

	lower := instance(t, r, lowerThird("lower"), 10)
	full := instance(t, r, fullscreen(), 20)

	r.PlayPage(lower, PlayFromStart)
	if !r.IsPagePlaying(lower) {
		t.Fatal("expected lower third on air")
	}
	r.PlayPage(full, PlayFromStart)
	if r.IsPagePlaying(lower) {
		t.Fatal("fullscreen page must take the lower third off air")
	}
	if !r.IsPagePlaying(full) {
		t.Fatal("expected fullscreen on air")
	}
	if got := r.GetPlayingPageIDs("Program"); len(got) != 1 || got[0] != full {
		t.Fatalf("playing ids = %v", got)
	}
	if r.Playhead() != full {
		t.Fatalf("playhead = %d", r.Playhead())
	}
}

func TestTransitionPagesShareChannel(t *testing.T) {
	env := newTestEnv(t, Settings{})
	r := env.r

	lower := instance(t, r, lowerThird("lower"), 10)
	logo := instance(t, r, lowerThird("logo"), 20)

	r.PlayPage(lower, PlayFromStart)
	r.PlayPage(logo, PlayFromStart)
	if !r.IsPagePlaying(lower) || !r.IsPagePlaying(logo) {
		t.Fatal("pages on distinct layers must both stay on air")
	}

	if n := r.StopLayers("Program", []string{"logo"}, StopOptions{}); n != 1 {
		t.Fatalf("expected one page on the layer, got %d", n)
	}
	if r.IsPagePlaying(logo) || !r.IsPagePlaying(lower) {
		t.Fatal("only the logo layer must go off air")
	}

	if !r.StopChannel("Program") {
		t.Fatal("expected channel stop")
	}
	if r.IsPlaying() {
		t.Fatal("expected nothing playing")
	}
}

func TestReuseKeepsInstance(t *testing.T) {
	env := newTestEnv(t, Settings{})
	r := env.r

	tmpl := lowerThird("lower")
	tmpl.ReuseMode = ReuseReuse
	tid := r.AddTemplate(tmpl, IDParams{ReferenceID: 1})
	a, _ := r.AddPageFromTemplate(tid, IDParams{ReferenceID: 2}, AppendPosition)
	b, _ := r.AddPageFromTemplate(tid, IDParams{ReferenceID: 3}, AppendPosition)
	v := rcvalues.New()
	v.SetEntity("Name", "Grace")
	_ = r.SetPageValues(b, v)

	r.PlayPage(a, PlayFromStart)
	before := r.FindPlayerForPage(a, false, "").InstancePlayers()[0].Instance()

	r.PlayPage(b, PlayFromStart)
	if r.IsPagePlaying(a) {
		t.Fatal("first page must hand its instance over")
	}
	pp := r.FindPlayerForPage(b, false, "")
	if pp == nil || pp.InstancePlayers()[0].Instance() != before {
		t.Fatal("expected the same instance reused")
	}
	if len(env.loader.Graphs()) != 1 {
		t.Fatalf("reuse must not load again, loaded %d", len(env.loader.Graphs()))
	}
	applied := env.loader.Graphs()[0].AppliedValues()
	if last := applied[len(applied)-1]; last.Entities["Name"].Value != "Grace" {
		t.Fatalf("expected new values applied, got %+v", last)
	}
	if before.UserData() != UserDataForPage(b) {
		t.Fatalf("user data = %q", before.UserData())
	}
}

func TestBypassOnSameValues(t *testing.T) {
	env := newTestEnv(t, Settings{EnableSingleTemplateSpecialLogic: true})
	r := env.r

	tid := r.AddTemplate(lowerThird("lower"), IDParams{ReferenceID: 1})
	a, _ := r.AddPageFromTemplate(tid, IDParams{ReferenceID: 2}, AppendPosition)
	b, _ := r.AddPageFromTemplate(tid, IDParams{ReferenceID: 3}, AppendPosition)

	r.PlayPage(a, PlayFromStart)
	graph := env.loader.Graphs()[0]
	applied := len(graph.AppliedValues())

	r.PlayPage(b, PlayFromStart)
	if !r.IsPagePlaying(b) || r.IsPagePlaying(a) {
		t.Fatal("expected second page to take over the playing instance")
	}
	if len(env.loader.Graphs()) != 1 {
		t.Fatal("bypass must not load again")
	}
	if len(graph.AppliedValues()) != applied {
		t.Fatal("bypassed instance must not get values again")
	}
	if !graph.IsRunning() {
		t.Fatal("bypassed instance must keep running")
	}
}

func TestReplayIsCameraCut(t *testing.T) {
	env := newTestEnv(t, Settings{})
	r := env.r

	tmpl := lowerThird("lower")
	tmpl.ReuseMode = ReuseReuse
	id := instance(t, r, tmpl, 10)
	r.PlayPage(id, PlayFromStart)
	before := r.FindPlayerForPage(id, false, "").InstancePlayers()[0].Instance()
	r.PlayPage(id, PlayFromStart)

	if n := len(r.PagePlayers()); n != 1 {
		t.Fatalf("expected one page player, got %d", n)
	}
	if len(env.loader.Graphs()) != 1 {
		t.Fatalf("reuse replay must not load again, loaded %d", len(env.loader.Graphs()))
	}
	if got := r.FindPlayerForPage(id, false, "").InstancePlayers()[0].Instance(); got != before {
		t.Fatal("expected the running instance kept")
	}
	cuts := 0
	for _, a := range env.loader.Graphs()[0].Animations() {
		if a.Action == playback.AnimationCameraCut {
			cuts++
		}
	}
	if cuts != 1 {
		t.Fatalf("expected one camera cut, got %d", cuts)
	}
	if !r.IsPagePlaying(id) {
		t.Fatal("expected page on air")
	}
}

func TestReplayReloadsFreshInstance(t *testing.T) {
	env := newTestEnv(t, Settings{})
	r := env.r

	id := instance(t, r, lowerThird("lower"), 10)
	r.PlayPage(id, PlayFromStart)
	before := r.FindPlayerForPage(id, false, "").InstancePlayers()[0].Instance()

	v := rcvalues.New()
	v.SetEntity("Name", "Grace")
	if err := r.SetPageValues(id, v); err != nil {
		t.Fatalf("set values: %v", err)
	}
	status := env.bus.SubscribeBuffered(events.EventPageStatus, 16)
	if !r.PlayPage(id, PlayFromStart) {
		t.Fatal("replay must play")
	}

	graphs := env.loader.Graphs()
	if len(graphs) != 2 {
		t.Fatalf("reload replay must load a new graph, loaded %d", len(graphs))
	}
	if n := len(r.PagePlayers()); n != 1 {
		t.Fatalf("expected one page player, got %d", n)
	}
	after := r.FindPlayerForPage(id, false, "").InstancePlayers()[0].Instance()
	if after == before {
		t.Fatal("expected a fresh instance")
	}
	if graphs[0].IsRunning() {
		t.Fatal("previous instance must be cut off air")
	}
	if !graphs[1].IsRunning() || !r.IsPagePlaying(id) {
		t.Fatal("expected the new instance on air")
	}
	applied := graphs[1].AppliedValues()
	if len(applied) == 0 || applied[len(applied)-1].Entities["Name"].Value != "Grace" {
		t.Fatalf("expected new values on the fresh instance, got %+v", applied)
	}
	for len(status) > 0 {
		if ev := <-status; ev["status"] == "stopped" {
			t.Fatalf("replayed page reported stopped: %v", ev)
		}
	}
}

func TestCanPlayPageRules(t *testing.T) {
	env := newTestEnv(t, Settings{})
	r := env.r

	tid := r.AddTemplate(lowerThird("lower"), IDParams{ReferenceID: 1})
	id, _ := r.AddPageFromTemplate(tid, IDParams{ReferenceID: 2}, AppendPosition)

	if err := r.CanPlayPage(tid, false, ""); err == nil {
		t.Fatal("template must not play on program")
	}
	if err := r.CanPlayPage(tid, true, DefaultPreviewChannel); err != nil {
		t.Fatalf("template preview: %v", err)
	}
	if err := r.CanPlayPage(99, false, ""); !errors.Is(err, ErrInvalidPage) {
		t.Fatalf("expected invalid page, got %v", err)
	}

	_ = r.SetPageEnabled(id, false)
	if err := r.CanPlayPage(id, false, ""); err == nil {
		t.Fatal("disabled page must not play")
	}
	_ = r.SetPageEnabled(id, true)

	_ = r.SetPageChannel(id, "Nowhere")
	if err := r.CanPlayPage(id, false, ""); !errors.Is(err, ErrChannelIncompat) {
		t.Fatalf("expected unknown channel rejected, got %v", err)
	}
	if err := r.CanPlayPage(id, true, "Program"); !errors.Is(err, ErrChannelIncompat) {
		t.Fatalf("program is not a preview channel, got %v", err)
	}

	_ = r.SetPageChannel(id, "Remote")
	env.reg.AddChannel("Remote", broadcast.ChannelProgram, []broadcast.MediaOutput{{Name: "out", Remote: true, Address: "10.0.0.2"}})
	if err := r.CanPlayPage(id, false, ""); !errors.Is(err, ErrChannelIncompat) {
		t.Fatalf("expected offline channel rejected, got %v", err)
	}
}

func TestPreviewAndTakeToProgram(t *testing.T) {
	env := newTestEnv(t, Settings{})
	r := env.r

	id := instance(t, r, lowerThird("lower"), 10)
	if played := r.PlayPages([]int{id}, PreviewFromStart, ""); len(played) != 1 {
		t.Fatalf("preview: %v", played)
	}
	if !r.IsPagePreviewing(id) || r.IsPagePlaying(id) {
		t.Fatal("expected page on preview only")
	}
	if got := r.GetPreviewingPageIDs(DefaultPreviewChannel); len(got) != 1 {
		t.Fatalf("previewing = %v", got)
	}

	if taken := r.TakeToProgram(nil, ""); len(taken) != 1 || taken[0] != id {
		t.Fatalf("take: %v", taken)
	}
	if !r.IsPagePlaying(id) || !r.IsPagePreviewing(id) {
		t.Fatal("expected page on program and still on preview")
	}
}

func TestContinueAndUpdateValues(t *testing.T) {
	env := newTestEnv(t, Settings{})
	r := env.r
	seq := env.bus.SubscribeBuffered(events.EventSequence, 4)

	id := instance(t, r, lowerThird("lower"), 10)
	if r.ContinuePage(id, false, "") {
		t.Fatal("continue must fail before play")
	}
	r.PlayPage(id, PlayFromStart)
	if !r.ContinuePage(id, false, "") {
		t.Fatal("expected continue")
	}
	select {
	case ev := <-seq:
		if ev["page_id"] != id {
			t.Fatalf("unexpected event %v", ev)
		}
	default:
		t.Fatal("expected sequence event")
	}

	v := rcvalues.New()
	v.SetEntity("Name", "Hopper")
	_ = r.SetPageValues(id, v)
	if !r.UpdatePageValues(id, false, "") {
		t.Fatal("expected values pushed")
	}
	applied := env.loader.Graphs()[0].AppliedValues()
	if applied[len(applied)-1].Entities["Name"].Value != "Hopper" {
		t.Fatal("expected updated values on the graph")
	}
}

func TestPendingTransitionStartsWhenLoaded(t *testing.T) {
	bus := events.NewBus()
	loader := playback.NewSimulatedLoader(nil, 2)
	mgr := playback.NewManager(loader, nil, bus, zerolog.Nop())
	sync := barrier.NewLocal(zerolog.Nop())
	r := New(Context{Manager: mgr, Barrier: sync, Bus: bus, Logger: zerolog.Nop()}, Settings{})

	id := instance(t, r, lowerThird("lower"), 10)
	r.PlayPage(id, PlayFromStart)
	if len(r.Transitions()) != 1 {
		t.Fatalf("expected a pending transition, have %d", len(r.Transitions()))
	}
	if loader.Graphs()[0].IsRunning() {
		t.Fatal("graph must not run before it is loaded")
	}

	if err := r.CanPlayPage(id, false, ""); !errors.Is(err, ErrTransitionActive) {
		t.Fatalf("expected transition active, got %v", err)
	}

	for frame := uint64(1); frame <= 4; frame++ {
		mgr.Tick(frame)
		sync.Tick(frame)
		r.Tick(frame)
	}
	if len(r.Transitions()) != 0 {
		t.Fatal("expected transition finished")
	}
	if !loader.Graphs()[0].IsRunning() || !r.IsPagePlaying(id) {
		t.Fatal("expected page on air")
	}
}

func TestKeepPagesLoadedRecycles(t *testing.T) {
	env := newTestEnv(t, Settings{KeepPagesLoaded: true})
	r := env.r

	id := instance(t, r, lowerThird("lower"), 10)
	r.PlayPage(id, PlayFromStart)
	r.StopPages([]int{id}, StopOptions{ForceNoTransition: true}, false, "")
	r.PlayPage(id, PlayFromStart)
	if len(env.loader.Graphs()) != 1 {
		t.Fatalf("expected recycled instance, loaded %d graphs", len(env.loader.Graphs()))
	}

	r.StopPages([]int{id}, StopOptions{ForceNoTransition: true}, false, "")
	if !r.UnloadPage(id, false, "") {
		t.Fatal("expected idle instance unloaded")
	}
	if n := len(env.mgr.Instances()); n != 0 {
		t.Fatalf("expected no instances, have %d", n)
	}
}

func TestStopLayersCommand(t *testing.T) {
	env := newTestEnv(t, Settings{})
	r := env.r

	lower := instance(t, r, lowerThird("lower"), 10)
	clear := r.AddTemplate(Page{
		Name:     "Clear lower",
		Channel:  "Program",
		Enabled:  true,
		Commands: []Command{{Kind: CommandStopLayers, Layers: []string{"lower"}}},
	}, IDParams{ReferenceID: 20})
	clearPage, _ := r.AddPageFromTemplate(clear, IDParams{ReferenceID: 21}, AppendPosition)

	r.PlayPage(lower, PlayFromStart)
	if played := r.PlayPages([]int{clearPage}, PlayFromStart, ""); len(played) != 1 {
		t.Fatalf("command page must play, got %v", played)
	}
	if r.IsPagePlaying(lower) {
		t.Fatal("stop layers command must clear the layer")
	}
}

func TestForcedStopLayersKeepsOtherComboLayers(t *testing.T) {
	bus := events.NewBus()
	loader := playback.NewSimulatedLoader(nil, 0)
	mgr := playback.NewManager(loader, nil, bus, zerolog.Nop())
	sync := barrier.NewLocal(zerolog.Nop())
	r := New(Context{Manager: mgr, Barrier: sync, Bus: bus, Logger: zerolog.Nop()}, Settings{})
	frame := uint64(0)
	settle := func() {
		for i := 0; i < 2; i++ {
			frame++
			mgr.Tick(frame)
			sync.Tick(frame)
			r.Tick(frame)
		}
	}

	a := r.AddTemplate(lowerThird("a"), IDParams{ReferenceID: 1})
	bPage := lowerThird("b")
	bPage.Values = rcvalues.New()
	bPage.Values.SetEntity("Score", "2-1")
	b := r.AddTemplate(bPage, IDParams{ReferenceID: 2})
	combo, err := r.AddComboTemplate([]int{a, b}, IDParams{ReferenceID: 10})
	if err != nil {
		t.Fatalf("combo: %v", err)
	}
	page, _ := r.AddPageFromTemplate(combo, IDParams{ReferenceID: 20}, AppendPosition)
	logo := instance(t, r, lowerThird("logo"), 30)

	r.PlayPage(page, PlayFromStart)
	settle()
	if !r.IsPagePlaying(page) {
		t.Fatal("expected combo page on air")
	}

	// A transition on another layer is still waiting for its cut.
	r.PlayPage(logo, PlayFromStart)
	if len(r.Transitions()) != 1 {
		t.Fatalf("expected a pending transition, have %d", len(r.Transitions()))
	}

	if n := r.StopLayers("Program", []string{"a"}, StopOptions{ForceNoTransition: true}); n != 1 {
		t.Fatalf("expected one page on the layer, got %d", n)
	}
	if !r.IsPagePlaying(page) {
		t.Fatal("combo page must stay on air through its other layer")
	}
	pp := r.FindPlayerForPage(page, false, "")
	for _, ip := range pp.InstancePlayers() {
		switch ip.TransitionLayer() {
		case "a":
			if ip.IsPlaying() {
				t.Error("instance on the stopped layer still playing")
			}
		case "b":
			if !ip.IsPlaying() {
				t.Error("instance on layer b went off air")
			}
		}
	}
	if len(r.Transitions()) != 1 {
		t.Fatal("forced layer stop must leave unrelated transitions alone")
	}

	settle()
	if !r.IsPagePlaying(logo) {
		t.Fatal("expected logo page on air after its cut")
	}
	if !r.IsPagePlaying(page) {
		t.Fatal("logo cut must not evict the combo page")
	}
}
