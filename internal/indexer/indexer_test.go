package indexer

import (
	"context"
	"errors"
	"testing"

	"github.com/repoqa/repoqa/pkg/models"
)

type mockRepoStore struct {
	repos    map[string]models.Repo
	upserted []models.Repo
}

func (m *mockRepoStore) UpsertRepo(_ context.Context, r models.Repo) error {
	m.upserted = append(m.upserted, r)
	m.repos[r.ID] = r
	return nil
}

func (m *mockRepoStore) GetRepo(_ context.Context, id string) (models.Repo, error) {
	r, ok := m.repos[id]
	if !ok {
		return models.Repo{}, models.ErrRepoNotFound
	}
	return r, nil
}

func (m *mockRepoStore) ListRepos(_ context.Context) ([]models.Repo, error) { return nil, nil }

type mockGroupStore struct {
	groups   map[string]models.RepoGroup
	upserted []models.RepoGroup
}

func (m *mockGroupStore) UpsertGroup(_ context.Context, g models.RepoGroup) error {
	m.upserted = append(m.upserted, g)
	return nil
}

func (m *mockGroupStore) GetGroup(_ context.Context, id string) (models.RepoGroup, error) {
	g, ok := m.groups[id]
	if !ok {
		return models.RepoGroup{}, models.ErrGroupNotFound
	}
	return g, nil
}

func (m *mockGroupStore) ListGroups(_ context.Context) ([]models.RepoGroup, error) { return nil, nil }

type mockChunkStore struct {
	replaced   map[string][]models.Chunk
	replaceErr error
}

func (m *mockChunkStore) ReplaceChunksForRepo(_ context.Context, repoID string, chunks []models.Chunk) error {
	if m.replaceErr != nil {
		return m.replaceErr
	}
	if m.replaced == nil {
		m.replaced = map[string][]models.Chunk{}
	}
	m.replaced[repoID] = chunks
	return nil
}

func (m *mockChunkStore) ListChunksForRepo(_ context.Context, repoID string) ([]models.Chunk, error) {
	return m.replaced[repoID], nil
}

type mockCloner struct {
	err    error
	branch string
}

func (m *mockCloner) CloneOrUpdate(_ context.Context, repo models.Repo, branch string) (string, string, error) {
	if m.err != nil {
		return "", "", m.err
	}
	b := m.branch
	if b == "" {
		b = "main"
	}
	return "/data/repos/" + repo.ID, b, nil
}

type mockChunker struct {
	chunks []models.Chunk
	err    error
}

func (m *mockChunker) ChunkRepo(repoID, root string) ([]models.Chunk, error) {
	return m.chunks, m.err
}

type mockEmbedder struct {
	added [][]models.Chunk
	err   error
}

func (m *mockEmbedder) AddChunks(_ context.Context, chunks []models.Chunk) error {
	if m.err != nil {
		return m.err
	}
	m.added = append(m.added, chunks)
	return nil
}

type mockOutline struct {
	saved   map[string]string
	saveErr error
}

func (m *mockOutline) Generate(_ context.Context, repoID string, _ []models.Chunk) string {
	return "# " + repoID
}

func (m *mockOutline) Save(repoID, md string) (string, error) {
	if m.saveErr != nil {
		return "", m.saveErr
	}
	if m.saved == nil {
		m.saved = map[string]string{}
	}
	m.saved[repoID] = md
	return "/data/outlines/" + repoID + ".md", nil
}

type mockStars struct{ value int }

func (m *mockStars) Fetch(_ context.Context, _ string, prev int) int {
	if m.value > 0 {
		return m.value
	}
	return prev
}

func newFixture() (*Indexer, *mockRepoStore, *mockGroupStore, *mockChunkStore, *mockEmbedder, *mockOutline) {
	repos := &mockRepoStore{repos: map[string]models.Repo{
		"demo": {ID: "demo", GitURL: "https://github.com/o/demo", DefaultBranch: "main", Stars: 10},
		"r2":   {ID: "r2", GitURL: "https://github.com/o/r2"},
	}}
	groups := &mockGroupStore{groups: map[string]models.RepoGroup{
		"g1": {ID: "g1", RepoIDs: []string{"demo", "ghost", "r2"}},
	}}
	chunkStore := &mockChunkStore{}
	embed := &mockEmbedder{}
	outl := &mockOutline{}
	ix := &Indexer{
		Repos:  repos,
		Groups: groups,
		Chunks: chunkStore,
		Git:    &mockCloner{},
		Chunker: &mockChunker{chunks: []models.Chunk{
			{ID: "c1", RepoID: "demo", Path: "a.py", StartLine: 1, EndLine: 10},
		}},
		Embed:   embed,
		Outline: outl,
		Stars:   &mockStars{value: 25},
	}
	return ix, repos, groups, chunkStore, embed, outl
}

func TestReindex_FullPipeline(t *testing.T) {
	ix, repos, _, chunkStore, embed, outl := newFixture()

	if err := ix.Reindex(context.Background(), "demo", ""); err != nil {
		t.Fatalf("Reindex failed: %v", err)
	}

	if len(chunkStore.replaced["demo"]) != 1 {
		t.Error("chunks were not replaced")
	}
	if len(embed.added) != 1 {
		t.Error("chunks were not embedded")
	}
	if outl.saved["demo"] != "# demo" {
		t.Errorf("outline not saved, got %q", outl.saved["demo"])
	}

	if len(repos.upserted) != 1 {
		t.Fatalf("expected one repo upsert, got %d", len(repos.upserted))
	}
	final := repos.upserted[0]
	if final.IndexedAt == nil {
		t.Error("indexed_at must be stamped after a successful reindex")
	}
	if final.LocalPath != "/data/repos/demo" {
		t.Errorf("unexpected local path %s", final.LocalPath)
	}
	if final.Stars != 25 {
		t.Errorf("star enrichment not applied, got %d", final.Stars)
	}
}

func TestReindex_UnknownRepo(t *testing.T) {
	ix, _, _, _, _, _ := newFixture()
	err := ix.Reindex(context.Background(), "ghost", "")
	if !errors.Is(err, models.ErrRepoNotFound) {
		t.Fatalf("expected ErrRepoNotFound, got %v", err)
	}
}

func TestReindex_EmbedFailureSkipsStamp(t *testing.T) {
	ix, repos, _, _, embed, _ := newFixture()
	embed.err = errors.New("provider down")

	if err := ix.Reindex(context.Background(), "demo", ""); err == nil {
		t.Fatal("expected embed failure to propagate")
	}
	if len(repos.upserted) != 0 {
		t.Error("a failed reindex must not stamp indexed_at")
	}
}

func TestReindex_CloneFailure(t *testing.T) {
	ix, _, _, chunkStore, _, _ := newFixture()
	ix.Git = &mockCloner{err: errors.New("network down")}

	if err := ix.Reindex(context.Background(), "demo", ""); err == nil {
		t.Fatal("expected clone failure to propagate")
	}
	if len(chunkStore.replaced) != 0 {
		t.Error("chunk set must be untouched when materialization fails")
	}
}

func TestReindex_OutlineSaveFailureIsNotFatal(t *testing.T) {
	ix, repos, _, _, _, outl := newFixture()
	outl.saveErr = errors.New("disk full")

	if err := ix.Reindex(context.Background(), "demo", ""); err != nil {
		t.Fatalf("outline save failure must not fail the reindex: %v", err)
	}
	if len(repos.upserted) != 1 {
		t.Error("reindex should still complete and stamp the repo")
	}
}

func TestReindex_NilStarsDisablesEnrichment(t *testing.T) {
	ix, repos, _, _, _, _ := newFixture()
	ix.Stars = nil

	if err := ix.Reindex(context.Background(), "demo", ""); err != nil {
		t.Fatalf("Reindex failed: %v", err)
	}
	if repos.upserted[0].Stars != 10 {
		t.Errorf("stars must be unchanged when enrichment is disabled, got %d", repos.upserted[0].Stars)
	}
}

func TestReindexGroup_SkipsUnknownMembers(t *testing.T) {
	ix, repos, groups, _, _, _ := newFixture()

	if err := ix.ReindexGroup(context.Background(), "g1"); err != nil {
		t.Fatalf("ReindexGroup failed: %v", err)
	}

	indexed := map[string]bool{}
	for _, r := range repos.upserted {
		indexed[r.ID] = true
	}
	if !indexed["demo"] || !indexed["r2"] {
		t.Errorf("known members must be reindexed, got %v", indexed)
	}
	if indexed["ghost"] {
		t.Error("unknown member must be skipped, not created")
	}

	if len(groups.upserted) != 1 || groups.upserted[0].IndexedAt == nil {
		t.Error("group indexed_at must be stamped after member success")
	}
}

func TestReindexGroup_UnknownGroup(t *testing.T) {
	ix, _, _, _, _, _ := newFixture()
	err := ix.ReindexGroup(context.Background(), "ghost")
	if !errors.Is(err, models.ErrGroupNotFound) {
		t.Fatalf("expected ErrGroupNotFound, got %v", err)
	}
}

func TestReindexGroup_CollectsMemberFailures(t *testing.T) {
	ix, _, groups, _, embed, _ := newFixture()
	embed.err = errors.New("provider down")

	err := ix.ReindexGroup(context.Background(), "g1")
	if err == nil {
		t.Fatal("expected member failures to surface")
	}
	if len(groups.upserted) != 0 {
		t.Error("group must not be stamped when no member succeeded")
	}
}
