package dedup

import (
	"context"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/mokuroreader/corestore/provider"
)

// fakeStore is an in-memory capability-map folder tree that tolerates
// duplicate sibling names, like the real stores the deduplicator exists
// for.
type fakeStore struct {
	nextID  int
	folders map[string]*fakeFolder
	files   map[string]*fakeFile
}

type fakeFolder struct {
	id        string
	name      string
	parentID  string
	createdAt time.Time
}

type fakeFile struct {
	id       string
	name     string
	parentID string
}

func newFakeStore() *fakeStore {
	return &fakeStore{folders: map[string]*fakeFolder{}, files: map[string]*fakeFile{}}
}

func (s *fakeStore) addFolder(name, parentID string, createdAt time.Time) string {
	s.nextID++
	id := fmt.Sprintf("d%d", s.nextID)
	s.folders[id] = &fakeFolder{id: id, name: name, parentID: parentID, createdAt: createdAt}
	return id
}

func (s *fakeStore) addFile(name, parentID string) string {
	s.nextID++
	id := fmt.Sprintf("f%d", s.nextID)
	s.files[id] = &fakeFile{id: id, name: name, parentID: parentID}
	return id
}

func (s *fakeStore) ListFolders(ctx context.Context) ([]provider.Folder, error) {
	var out []provider.Folder
	for _, f := range s.folders {
		out = append(out, provider.Folder{ID: f.id, Name: f.name, ParentID: f.parentID, CreatedAt: f.createdAt})
	}
	return out, nil
}

func (s *fakeStore) ListChildren(ctx context.Context, folderID string) ([]provider.Child, error) {
	var out []provider.Child
	for _, f := range s.folders {
		if f.parentID == folderID {
			out = append(out, provider.Child{ID: f.id, Name: f.name, IsFolder: true})
		}
	}
	for _, f := range s.files {
		if f.parentID == folderID {
			out = append(out, provider.Child{ID: f.id, Name: f.name, IsFolder: false})
		}
	}
	return out, nil
}

func (s *fakeStore) MoveChild(ctx context.Context, childID, newParentID string) error {
	if f, ok := s.folders[childID]; ok {
		f.parentID = newParentID
		return nil
	}
	if f, ok := s.files[childID]; ok {
		f.parentID = newParentID
		return nil
	}
	return fmt.Errorf("no such child %s", childID)
}

func (s *fakeStore) DeleteFile(ctx context.Context, fileID string) error {
	delete(s.files, fileID)
	return nil
}

func (s *fakeStore) DeleteFolder(ctx context.Context, folderID string) error {
	for _, f := range s.folders {
		if f.parentID == folderID {
			return fmt.Errorf("folder %s not empty", folderID)
		}
	}
	for _, f := range s.files {
		if f.parentID == folderID {
			return fmt.Errorf("folder %s not empty", folderID)
		}
	}
	delete(s.folders, folderID)
	return nil
}

// duplicateGroups counts sibling-name collisions across the whole tree.
func (s *fakeStore) duplicateGroups() int {
	count := map[string]int{}
	for _, f := range s.folders {
		count[f.parentID+"\x00"+f.name]++
	}
	groups := 0
	for _, n := range count {
		if n > 1 {
			groups++
		}
	}
	return groups
}

var _ = Describe("Run", func() {
	var (
		store *fakeStore
		ctx   = context.Background()
		t0    = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	)

	BeforeEach(func() {
		store = newFakeStore()
	})

	It("is a no-op on a clean tree", func() {
		root := store.addFolder("MokuroReader", "", t0)
		store.addFolder("Naruto", root, t0.Add(time.Hour))
		res, err := Run(ctx, store)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.DuplicateGroupsFound).To(BeZero())
	})

	It("merges duplicate siblings, keeping the oldest", func() {
		root := store.addFolder("MokuroReader", "", t0)
		naruto1 := store.addFolder("Naruto", root, t0.Add(time.Hour))
		naruto2 := store.addFolder("Naruto", root, t0.Add(2*time.Hour))
		store.addFile("Volume_05.cbz", naruto1)
		newer := store.addFile("Volume_05.cbz", naruto2)

		res, err := Run(ctx, store)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.DuplicateGroupsFound).To(Equal(1))
		Expect(res.FilesDeleted).To(Equal(1), "file collision deletes the duplicate's version")
		Expect(res.EmptyFoldersDeleted).To(Equal(1))

		Expect(store.folders).NotTo(HaveKey(naruto2), "the newer duplicate folder is gone")
		Expect(store.folders).To(HaveKey(naruto1), "the canonical (oldest) survives")
		Expect(store.files).NotTo(HaveKey(newer), "the losing update is deleted")

		// Next pass finds nothing.
		res, err = Run(ctx, store)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.DuplicateGroupsFound).To(BeZero())
	})

	It("moves non-colliding children into the canonical", func() {
		root := store.addFolder("MokuroReader", "", t0)
		a := store.addFolder("Bleach", root, t0)
		b := store.addFolder("Bleach", root, t0.Add(time.Minute))
		keep := store.addFile("Volume_01.cbz", a)
		moved := store.addFile("Volume_02.cbz", b)

		_, err := Run(ctx, store)
		Expect(err).NotTo(HaveOccurred())
		Expect(store.files[keep].parentID).To(Equal(a))
		Expect(store.files[moved].parentID).To(Equal(a), "unique child moves to canonical")
	})

	It("pushes colliding subfolders down a level for the next pass", func() {
		root := store.addFolder("MokuroReader", "", t0)
		a := store.addFolder("Naruto", root, t0)
		b := store.addFolder("Naruto", root, t0.Add(time.Minute))
		store.addFolder("Extras", a, t0)
		subB := store.addFolder("Extras", b, t0.Add(time.Minute))

		res, err := Run(ctx, store)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.FoldersMergedUp).To(BeNumerically(">=", 1))
		// The duplicate pair now lives one level down, inside the canonical.
		Expect(store.folders[subB].parentID).To(Equal(a))
		Expect(store.duplicateGroups()).To(Equal(1))
	})

	It("converges on nested duplicates", func() {
		root := store.addFolder("MokuroReader", "", t0)
		a := store.addFolder("Naruto", root, t0)
		b := store.addFolder("Naruto", root, t0.Add(time.Minute))
		subA := store.addFolder("Extras", a, t0)
		subB := store.addFolder("Extras", b, t0.Add(time.Minute))
		store.addFile("art.cbz", subA)
		store.addFile("omake.cbz", subB)

		results, err := RunUntilConverged(ctx, store, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(results[len(results)-1].DuplicateGroupsFound).To(BeZero())
		Expect(store.duplicateGroups()).To(BeZero(), "final tree has no duplicate siblings")
		// Both unique files survived the merges.
		Expect(store.files).To(HaveLen(2))
	})

	It("reports when the app root was the canonical", func() {
		store.addFolder("MokuroReader", "", t0)
		store.addFolder("MokuroReader", "", t0.Add(time.Minute))
		res, err := Run(ctx, store)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.RootFolderWasCanonical).To(BeTrue())
	})
})
