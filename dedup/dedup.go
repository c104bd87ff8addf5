// Package dedup implements the folder deduplicator:
// level-wise merging of duplicate sibling folders for providers whose
// stores tolerate duplicate folder names under the same parent
// (capability-map providers only).
/*
 * Copyright (c) 2024, Mokuro Reader Project.
 */
package dedup

import (
	"context"
	"sort"

	"github.com/mokuroreader/corestore/corelog"
	"github.com/mokuroreader/corestore/provider"
	"github.com/pkg/errors"
)

// Result reports what one pass (Run) did, for logging/tests.
type Result struct {
	DuplicateGroupsFound   int
	FilesDeleted           int
	FoldersMergedUp        int
	EmptyFoldersDeleted    int
	RootFolderWasCanonical bool
}

// appFolderName mirrors the provider package's appFolderName
// (provider/capmap.go), which is unexported; both are the same literal.
const appFolderName = "MokuroReader"

// Run performs a single deduplication pass over ops. Callers
// that want the "repeat until no duplicate groups are found" outer loop
// should call RunUntilConverged instead.
func Run(ctx context.Context, ops provider.FolderOperations) (Result, error) {
	var res Result

	folders, err := ops.ListFolders(ctx)
	if err != nil {
		return res, errors.Wrap(err, "dedup: list folders")
	}

	groups := groupByParentName(folders)

	for _, members := range groups {
		if len(members) < 2 {
			continue
		}
		res.DuplicateGroupsFound++

		sort.Slice(members, func(i, j int) bool { return members[i].CreatedAt.Before(members[j].CreatedAt) })
		canonical := members[0]
		duplicates := members[1:]

		if canonical.ParentID == "" && canonical.Name == appFolderName {
			res.RootFolderWasCanonical = true
		}

		canonicalChildren, err := ops.ListChildren(ctx, canonical.ID)
		if err != nil {
			return res, errors.Wrap(err, "dedup: list canonical children")
		}
		canonicalByName := map[string]provider.Child{}
		for _, c := range canonicalChildren {
			canonicalByName[c.Name] = c
		}

		for _, dup := range duplicates {
			if err := mergeDuplicateInto(ctx, ops, canonical, dup, canonicalByName, &res); err != nil {
				return res, err
			}
			if err := ops.DeleteFolder(ctx, dup.ID); err != nil {
				return res, errors.Wrapf(err, "dedup: delete emptied duplicate %s", dup.Name)
			}
			res.EmptyFoldersDeleted++
		}
	}

	if res.RootFolderWasCanonical {
		corelog.Infof("dedup: app root folder was canonical after merge")
	}
	return res, nil
}

// mergeDuplicateInto enumerates dup's children and, per child,
// either deletes a losing file, moves a folder in (accepting a fresh
// duplicate pair one level down, resolved by the next pass), or moves a
// non-colliding child straight in.
func mergeDuplicateInto(ctx context.Context, ops provider.FolderOperations, canonical, dup provider.Folder, canonicalByName map[string]provider.Child, res *Result) error {
	children, err := ops.ListChildren(ctx, dup.ID)
	if err != nil {
		return errors.Wrapf(err, "dedup: list children of duplicate %s", dup.Name)
	}
	for _, child := range children {
		existing, collides := canonicalByName[child.Name]
		switch {
		case collides && !existing.IsFolder && !child.IsFolder:
			// "If the canonical already contains a child of the same name
			// that is a file, delete the duplicate's version."
			if err := ops.DeleteFile(ctx, child.ID); err != nil {
				return errors.Wrapf(err, "dedup: delete losing duplicate file %s", child.Name)
			}
			res.FilesDeleted++
		case collides && existing.IsFolder && child.IsFolder:
			// "move the duplicate's subfolder into the canonical anyway,
			// accepting that a new duplicate folder pair is created
			// inside the canonical; the next invocation ... will resolve
			// it."
			if err := ops.MoveChild(ctx, child.ID, canonical.ID); err != nil {
				return errors.Wrapf(err, "dedup: move colliding subfolder %s", child.Name)
			}
			res.FoldersMergedUp++
		default:
			if err := ops.MoveChild(ctx, child.ID, canonical.ID); err != nil {
				return errors.Wrapf(err, "dedup: move child %s", child.Name)
			}
			res.FoldersMergedUp++
		}
	}
	return nil
}

// RunUntilConverged re-runs Run until a pass finds zero duplicate groups
//, or maxPasses is hit as a safety backstop against a
// pathological input that never converges within this call.
func RunUntilConverged(ctx context.Context, ops provider.FolderOperations, maxPasses int) ([]Result, error) {
	var all []Result
	for i := 0; i < maxPasses; i++ {
		res, err := Run(ctx, ops)
		if err != nil {
			return all, err
		}
		all = append(all, res)
		if res.DuplicateGroupsFound == 0 {
			return all, nil
		}
	}
	return all, errors.New("dedup: did not converge within max passes")
}

type parentNameKey struct {
	parentID string
	name     string
}

func groupByParentName(folders []provider.Folder) map[parentNameKey][]provider.Folder {
	byKey := map[parentNameKey][]provider.Folder{}
	for _, f := range folders {
		k := parentNameKey{parentID: f.ParentID, name: f.Name}
		byKey[k] = append(byKey[k], f)
	}
	return byKey
}
