package sync

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	"github.com/gampnico/paeon/cachedir"
	"github.com/gampnico/paeon/dataset"
	"github.com/gampnico/paeon/store/metadb"
	"github.com/gampnico/paeon/upstream"
)

const casesTimelineCSV = "Time;Bundesland;BundeslandID;AnzahlFaelle\n" +
	"01.01.2021 00:00:00;Tirol;7;120\n" +
	"01.01.2021 00:00:00;Wien;9;310\n"

const hospitalCSV = "Meldedat;FZHosp;FZICU;Bundesland\n" +
	"01.01.2021;200;40;Tirol\n"

func buildZip(t *testing.T, members map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range members {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func zipDescriptor(url string) *dataset.Descriptor {
	return &dataset.Descriptor{
		ID:        "ages-cases",
		URL:       url,
		Format:    dataset.FormatZip,
		CachePath: "austria/data.zip",
		Members: []dataset.Member{
			{
				Name:      "CovidFaelle_Timeline.csv",
				CachePath: "austria/CovidFaelle_Timeline.csv",
				Shape: dataset.CSVShape{
					Separator:       ';',
					RequiredColumns: []string{"Time", "Bundesland", "BundeslandID", "AnzahlFaelle"},
				},
			},
			{
				Name:      "CovidFallzahlen.csv",
				CachePath: "austria/CovidFallzahlen.csv",
				Shape: dataset.CSVShape{
					Separator:       ';',
					RequiredColumns: []string{"Meldedat", "FZHosp", "FZICU", "Bundesland"},
				},
			},
		},
	}
}

func TestZipDatasetExtractsMembers(t *testing.T) {
	payload := buildZip(t, map[string]string{
		"CovidFaelle_Timeline.csv": casesTimelineCSV,
		"CovidFallzahlen.csv":      hospitalCSV,
		"Version.csv":              "VersionsNr\n1\n", // extra member, ignored
	})

	o := newOrigin(string(payload), `"v1"`)
	srv := httptest.NewServer(o.handler())
	defer srv.Close()

	s, cache, db := newTestSync(t)
	desc := zipDescriptor(srv.URL)
	ctx := context.Background()

	outcome, err := s.VerifyUpdate(ctx, desc)
	require.NoError(t, err)
	require.Equal(t, Updated, outcome.Result)

	require.Equal(t, casesTimelineCSV, readCache(t, cache, "austria/CovidFaelle_Timeline.csv"))
	require.Equal(t, hospitalCSV, readCache(t, cache, "austria/CovidFallzahlen.csv"))
	require.Equal(t, string(payload), readCache(t, cache, "austria/data.zip"))

	entry, err := db.GetEntry(ctx, desc.ID)
	require.NoError(t, err)
	require.Equal(t, int64(len(payload)), entry.Size)
}

func TestZipDatasetUpToDate(t *testing.T) {
	payload := buildZip(t, map[string]string{
		"CovidFaelle_Timeline.csv": casesTimelineCSV,
		"CovidFallzahlen.csv":      hospitalCSV,
	})

	o := newOrigin(string(payload), `"v1"`)
	srv := httptest.NewServer(o.handler())
	defer srv.Close()

	s, _, _ := newTestSync(t)
	desc := zipDescriptor(srv.URL)
	ctx := context.Background()

	_, err := s.VerifyUpdate(ctx, desc)
	require.NoError(t, err)

	outcome, err := s.VerifyUpdate(ctx, desc)
	require.NoError(t, err)
	require.Equal(t, UpToDate, outcome.Result)
	require.EqualValues(t, 1, o.bodyServes.Load())
}

// faultyStore delegates to a real Dir but, once armed, breaks the second
// file's content stream mid-install.
type faultyStore struct {
	*cachedir.Dir
	armed bool
}

func (f *faultyStore) WriteFiles(ctx context.Context, files []cachedir.File) error {
	if f.armed && len(files) > 1 {
		files = append([]cachedir.File(nil), files...)
		files[1].Body = io.MultiReader(
			io.LimitReader(files[1].Body, 4),
			&brokenReader{},
		)
	}
	return f.Dir.WriteFiles(ctx, files)
}

type brokenReader struct{}

func (*brokenReader) Read([]byte) (int, error) {
	return 0, io.ErrUnexpectedEOF
}

func TestZipInstallFailurePreservesMembers(t *testing.T) {
	v1 := buildZip(t, map[string]string{
		"CovidFaelle_Timeline.csv": casesTimelineCSV,
		"CovidFallzahlen.csv":      hospitalCSV,
	})
	v2Timeline := casesTimelineCSV + "02.01.2021 00:00:00;Tirol;7;130\n"
	v2Hospital := hospitalCSV + "02.01.2021;210;44;Tirol\n"
	v2 := buildZip(t, map[string]string{
		"CovidFaelle_Timeline.csv": v2Timeline,
		"CovidFallzahlen.csv":      v2Hospital,
	})

	o := newOrigin(string(v1), `"v1"`)
	srv := httptest.NewServer(o.handler())
	defer srv.Close()

	dir, err := cachedir.New(filepath.Join(t.TempDir(), "data"))
	require.NoError(t, err)
	store := &faultyStore{Dir: dir}

	db := metadb.NewBoltDB(metadb.WithNoSync(true))
	require.NoError(t, db.Open(filepath.Join(t.TempDir(), "meta.db")))
	t.Cleanup(func() { _ = db.Close() })

	s := New(store, db, WithClient(upstream.New(WithTestTimeout())))
	desc := zipDescriptor(srv.URL)
	ctx := context.Background()

	_, err = s.VerifyUpdate(ctx, desc)
	require.NoError(t, err)

	// New version is published, but a member write fails mid-install.
	o.set(string(v2), `"v2"`)
	store.armed = true

	outcome, err := s.VerifyUpdate(ctx, desc)
	require.Equal(t, DownloadFailed, outcome.Result)

	var cacheErr *CacheWriteError
	require.ErrorAs(t, err, &cacheErr)

	// Every cached file and the entry still describe the previous version.
	require.Equal(t, casesTimelineCSV, readCache(t, dir, "austria/CovidFaelle_Timeline.csv"))
	require.Equal(t, hospitalCSV, readCache(t, dir, "austria/CovidFallzahlen.csv"))
	require.Equal(t, string(v1), readCache(t, dir, "austria/data.zip"))

	entry, err := db.GetEntry(ctx, desc.ID)
	require.NoError(t, err)
	require.Equal(t, `"v1"`, entry.ETag)

	// And a retry with the store healthy lands the new version whole.
	store.armed = false
	outcome, err = s.VerifyUpdate(ctx, desc)
	require.NoError(t, err)
	require.Equal(t, Updated, outcome.Result)
	require.Equal(t, v2Timeline, readCache(t, dir, "austria/CovidFaelle_Timeline.csv"))
	require.Equal(t, v2Hospital, readCache(t, dir, "austria/CovidFallzahlen.csv"))
}

func TestExtractedMemberMissingTreatedStale(t *testing.T) {
	payload := buildZip(t, map[string]string{
		"CovidFaelle_Timeline.csv": casesTimelineCSV,
		"CovidFallzahlen.csv":      hospitalCSV,
	})

	o := newOrigin(string(payload), `"v1"`)
	srv := httptest.NewServer(o.handler())
	defer srv.Close()

	s, cache, _ := newTestSync(t)
	desc := zipDescriptor(srv.URL)
	ctx := context.Background()

	_, err := s.VerifyUpdate(ctx, desc)
	require.NoError(t, err)

	// Someone removed one extracted member while the archive survived.
	path, err := cache.Path("austria/CovidFallzahlen.csv")
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	outcome, err := s.VerifyUpdate(ctx, desc)
	require.NoError(t, err)
	require.Equal(t, Updated, outcome.Result)
	require.Equal(t, hospitalCSV, readCache(t, cache, "austria/CovidFallzahlen.csv"))
}

func TestZipMissingMemberRejected(t *testing.T) {
	payload := buildZip(t, map[string]string{
		"CovidFaelle_Timeline.csv": casesTimelineCSV,
		// CovidFallzahlen.csv missing
	})

	o := newOrigin(string(payload), `"v1"`)
	srv := httptest.NewServer(o.handler())
	defer srv.Close()

	s, cache, _ := newTestSync(t)

	outcome, err := s.VerifyUpdate(context.Background(), zipDescriptor(srv.URL))
	require.Equal(t, ValidationFailed, outcome.Result)

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Equal(t, reasonMissingMember, validationErr.Reason)

	// Nothing was extracted.
	exists, err := cache.Exists(context.Background(), "austria/CovidFaelle_Timeline.csv")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestZipNotAnArchiveRejected(t *testing.T) {
	o := newOrigin("this is not a zip file at all", `"v1"`)
	srv := httptest.NewServer(o.handler())
	defer srv.Close()

	s, _, _ := newTestSync(t)

	outcome, err := s.VerifyUpdate(context.Background(), zipDescriptor(srv.URL))
	require.Equal(t, ValidationFailed, outcome.Result)

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Equal(t, reasonBadArchive, validationErr.Reason)
}

func TestZipMalformedMemberRejected(t *testing.T) {
	payload := buildZip(t, map[string]string{
		"CovidFaelle_Timeline.csv": casesTimelineCSV,
		"CovidFallzahlen.csv":      "Meldedat;FZHosp;FZICU;Bundesland\n\"unterminated\n",
	})

	o := newOrigin(string(payload), `"v1"`)
	srv := httptest.NewServer(o.handler())
	defer srv.Close()

	s, _, _ := newTestSync(t)

	outcome, err := s.VerifyUpdate(context.Background(), zipDescriptor(srv.URL))
	require.Equal(t, ValidationFailed, outcome.Result)
	require.Error(t, err)
}
