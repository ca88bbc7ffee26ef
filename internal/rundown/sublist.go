/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package rundown

import (
	"fmt"

	"github.com/google/uuid"
)

// SubLists returns the sublists in creation order.
func (r *Rundown) SubLists() []*SubList { return append([]*SubList(nil), r.subLists...) }

// SubList returns a sublist by id, or nil.
func (r *Rundown) SubList(id uuid.UUID) *SubList {
	for _, sl := range r.subLists {
		if sl.ID == id {
			return sl
		}
	}
	return nil
}

// AddSubList creates an empty sublist.
func (r *Rundown) AddSubList(name string) *SubList {
	sl := &SubList{ID: uuid.New(), Name: name}
	r.subLists = append(r.subLists, sl)
	r.notifyListChanged(SubListRef(sl.ID), "sublist_added", nil)
	return sl
}

// RemoveSubList deletes a sublist. The active list falls back to the
// instance list if it was the removed one.
func (r *Rundown) RemoveSubList(id uuid.UUID) error {
	for i, sl := range r.subLists {
		if sl.ID != id {
			continue
		}
		r.subLists = append(r.subLists[:i], r.subLists[i+1:]...)
		if r.active.Kind == SubListKind && r.active.SubListID == id {
			r.active = Instances
		}
		r.notifyListChanged(SubListRef(id), "sublist_removed", nil)
		return nil
	}
	return fmt.Errorf("remove sublist %s: %w", id, ErrInvalidSubList)
}

// RenameSubList renames a sublist.
func (r *Rundown) RenameSubList(id uuid.UUID, name string) error {
	sl := r.SubList(id)
	if sl == nil {
		return fmt.Errorf("rename sublist %s: %w", id, ErrInvalidSubList)
	}
	sl.Name = name
	r.notifyListChanged(SubListRef(id), "sublist_renamed", nil)
	return nil
}

// AddPageToSubList inserts an instanced page into a sublist.
func (r *Rundown) AddPageToSubList(id uuid.UUID, pageID int, pos InsertPosition) error {
	sl := r.SubList(id)
	if sl == nil {
		return fmt.Errorf("add page %d to sublist %s: %w", pageID, id, ErrInvalidSubList)
	}
	if err := r.insertIntoSubList(sl, pageID, pos); err != nil {
		return err
	}
	r.notifyListChanged(SubListRef(id), "added", []int{pageID})
	return nil
}

// AddPagesToSubList appends instanced pages to a sublist and returns the ids added.
func (r *Rundown) AddPagesToSubList(id uuid.UUID, pageIDs []int) ([]int, error) {
	sl := r.SubList(id)
	if sl == nil {
		return nil, fmt.Errorf("add pages to sublist %s: %w", id, ErrInvalidSubList)
	}
	var added []int
	for _, pid := range pageIDs {
		if err := r.insertIntoSubList(sl, pid, AppendPosition); err == nil {
			added = append(added, pid)
		}
	}
	if len(added) > 0 {
		r.notifyListChanged(SubListRef(id), "added", added)
	}
	return added, nil
}

func (r *Rundown) insertIntoSubList(sl *SubList, pageID int, pos InsertPosition) error {
	if !r.instances.Contains(pageID) {
		return fmt.Errorf("add page %d to sublist: %w", pageID, ErrInvalidPage)
	}
	if sl.Contains(pageID) {
		return fmt.Errorf("add page %d to sublist: already present", pageID)
	}
	at := pos.index(sl.indexOf(pos.AdjacentID))
	if at < 0 || at > len(sl.PageIDs) {
		at = len(sl.PageIDs)
	}
	sl.PageIDs = append(sl.PageIDs, 0)
	copy(sl.PageIDs[at+1:], sl.PageIDs[at:])
	sl.PageIDs[at] = pageID
	return nil
}

// RemovePagesFromSubList removes pages from a sublist and returns how many
// were removed. The pages themselves are kept.
func (r *Rundown) RemovePagesFromSubList(id uuid.UUID, pageIDs []int) (int, error) {
	sl := r.SubList(id)
	if sl == nil {
		return 0, fmt.Errorf("remove pages from sublist %s: %w", id, ErrInvalidSubList)
	}
	drop := make(map[int]bool, len(pageIDs))
	for _, pid := range pageIDs {
		drop[pid] = true
	}
	kept := sl.PageIDs[:0]
	removed := 0
	for _, pid := range sl.PageIDs {
		if drop[pid] {
			removed++
			continue
		}
		kept = append(kept, pid)
	}
	sl.PageIDs = kept
	if removed > 0 {
		r.notifyListChanged(SubListRef(id), "removed", pageIDs)
	}
	return removed, nil
}

// ActivePageList returns the list operators are working from.
func (r *Rundown) ActivePageList() ListRef { return r.active }

// SetActivePageList selects the instance list or a sublist.
func (r *Rundown) SetActivePageList(list ListRef) error {
	switch list.Kind {
	case InstanceList:
	case SubListKind:
		if r.SubList(list.SubListID) == nil {
			return fmt.Errorf("activate %s: %w", list, ErrInvalidSubList)
		}
	default:
		return fmt.Errorf("activate %s: only the instance list or a sublist can be active", list)
	}
	r.active = list
	r.notifyListChanged(list, "activated", nil)
	return nil
}

// ListPageIDs returns the ids of a list in order.
func (r *Rundown) ListPageIDs(list ListRef) ([]int, error) {
	switch list.Kind {
	case TemplateList:
		return r.templates.IDs(), nil
	case InstanceList:
		return r.instances.IDs(), nil
	case SubListKind:
		if sl := r.SubList(list.SubListID); sl != nil {
			return append([]int(nil), sl.PageIDs...), nil
		}
		return nil, fmt.Errorf("list %s: %w", list, ErrInvalidSubList)
	}
	return nil, fmt.Errorf("unknown list %q", list.Kind)
}
