package download

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pdfBody = []byte("%PDF-1.4\n% fake certificate\n")

func newTestWaiter(t *testing.T, events <-chan Event) (*Waiter, string) {
	t.Helper()
	dir := t.TempDir()
	w := NewWaiter(dir, events, log.New(io.Discard, "", 0))
	w.SetPollInterval(5 * time.Millisecond)
	return w, dir
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Choconut B.V", "choconut_b_v"},
		{"  Nuts 2 B.V.  ", "nuts_2_b_v"},
		{"Olivar, S.L. / Jaén", "olivar_s_l_jaén"},
		{"Olivar, S.L. / Jae\u0301n", "olivar_s_l_jaén"},
		{"Bio Ölmühle GmbH", "bio_ölmühle_gmbh"},
		{"Ελαιόλαδο Α.Ε.", "ελαιόλαδο_α_ε"},
		{"上海有机食品有限公司", "上海有机食品有限公司"},
		{"Ferme n°2", "ferme_n_2"},
		{"a--b", "a--b"},
		{"???", "unknown"},
		{"", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Slugify(tt.in))
		})
	}
}

func TestNamer_NeverReusesNames(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "choconut_b_v.pdf"), pdfBody, 0o644))

	n := NewNamer(dir)
	first := n.Next("Choconut B.V", ".pdf")
	second := n.Next("Choconut B.V", ".pdf")

	assert.Equal(t, filepath.Join(dir, "choconut_b_v_2.pdf"), first)
	assert.Equal(t, filepath.Join(dir, "choconut_b_v_3.pdf"), second)
}

func TestNamer_NonLatinNamesStayDistinct(t *testing.T) {
	n := NewNamer(t.TempDir())
	a := n.Next("上海有机食品有限公司", ".pdf")
	b := n.Next("Ελαιόλαδο Α.Ε.", ".pdf")

	assert.Equal(t, "上海有机食品有限公司.pdf", filepath.Base(a))
	assert.Equal(t, "ελαιόλαδο_α_ε.pdf", filepath.Base(b))
}

func TestAwait_FileAppearsAndStabilizes(t *testing.T) {
	w, dir := newTestWaiter(t, nil)
	p := w.Arm()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = os.WriteFile(filepath.Join(dir, "8c1f-guid"), pdfBody, 0o644)
	}()

	res, err := w.Await(context.Background(), p, "Choconut B.V", time.Second)
	require.NoError(t, err)
	require.Equal(t, Ready, res.State)
	assert.Equal(t, filepath.Join(dir, "choconut_b_v.pdf"), res.Path)

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, pdfBody, data)
}

func TestAwait_CompletedEvent(t *testing.T) {
	events := make(chan Event, 4)
	w, dir := newTestWaiter(t, events)
	p := w.Arm()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "guid-1"), pdfBody, 0o644))
	events <- Event{GUID: "guid-1", SuggestedFilename: "certificate.PDF", State: EventBegin}
	events <- Event{GUID: "guid-1", State: EventCompleted}

	res, err := w.Await(context.Background(), p, "Nuts 2 B.V", time.Second)
	require.NoError(t, err)
	require.Equal(t, Ready, res.State)
	assert.Equal(t, filepath.Join(dir, "nuts_2_b_v.pdf"), res.Path)
}

func TestAwait_IgnoresPreexistingAndPartialFiles(t *testing.T) {
	w, dir := newTestWaiter(t, nil)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.pdf"), pdfBody, 0o644))
	p := w.Arm()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "guid.crdownload"), pdfBody, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty"), nil, 0o644))

	res, err := w.Await(context.Background(), p, "Choconut B.V", 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, TimedOut, res.State)
	assert.Empty(t, res.Path)

	// partial file is kept for inspection
	assert.FileExists(t, filepath.Join(dir, "guid.crdownload"))
}

func TestAwait_TimedOutFileIsNotReusedLater(t *testing.T) {
	events := make(chan Event, 4)
	w, dir := newTestWaiter(t, events)

	p := w.Arm()
	events <- Event{GUID: "late", SuggestedFilename: "a.pdf", State: EventBegin}
	res, err := w.Await(context.Background(), p, "First", 30*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, TimedOut, res.State)

	p = w.Arm()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "late"), pdfBody, 0o644))
	res, err = w.Await(context.Background(), p, "Second", 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, TimedOut, res.State)
	assert.FileExists(t, filepath.Join(dir, "late"))
}

func TestAwait_SameSupplierTwiceGetsDistinctPaths(t *testing.T) {
	w, dir := newTestWaiter(t, nil)

	var paths []string
	for i, guid := range []string{"g1", "g2"} {
		p := w.Arm()
		require.NoError(t, os.WriteFile(filepath.Join(dir, guid), pdfBody, 0o644), i)
		res, err := w.Await(context.Background(), p, "Choconut B.V", time.Second)
		require.NoError(t, err)
		require.Equal(t, Ready, res.State)
		paths = append(paths, res.Path)
	}

	assert.NotEqual(t, paths[0], paths[1])
	assert.FileExists(t, paths[0])
	assert.FileExists(t, paths[1])
}

func TestAwait_ContextCanceled(t *testing.T) {
	w, _ := newTestWaiter(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.Await(ctx, w.Arm(), "Choconut B.V", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAwait_NotArmed(t *testing.T) {
	w, _ := newTestWaiter(t, nil)
	_, err := w.Await(context.Background(), nil, "x", time.Second)
	assert.Error(t, err)
}

func TestWaitStateString(t *testing.T) {
	assert.Equal(t, "ready", Ready.String())
	assert.Equal(t, "not_yet", NotYet.String())
	assert.Equal(t, "timed_out", TimedOut.String())
}
