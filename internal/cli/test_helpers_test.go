package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/airoxlab/bizposcash-sub002/internal/domain"
	"github.com/airoxlab/bizposcash-sub002/internal/orders"
)

// testConfig writes a config that keeps the database in a temp dir and
// runs against the in-memory remote store. Returns root options pointing
// at it.
func testConfig(t *testing.T, format string) *RootOptions {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "bizpos.yaml")
	content := "tenant_id: demo\n" +
		"terminal_id: till-test\n" +
		"storage:\n  path: " + filepath.Join(dir, "bizpos.db") + "\n" +
		"readiness:\n  attempts: 1\n  interval: 10ms\n" +
		"http:\n  addr: 127.0.0.1:0\n" +
		"log:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return &RootOptions{Format: format, Config: path}
}

// execute runs a subcommand built by newCmd and returns its stdout.
func execute(t *testing.T, newCmd func(*RootOptions) *cobra.Command, opts *RootOptions, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := newCmd(opts)
	cmd.SetOut(buf)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	cmd.SetContext(context.Background())
	err := cmd.Execute()
	return buf.String(), err
}

// placeOrder queues one takeaway order in the database the config points at.
func placeOrder(t *testing.T, opts *RootOptions) {
	t.Helper()
	ctx := context.Background()
	cfg, err := loadConfig(opts)
	require.NoError(t, err)

	st, err := openStack(ctx, cfg, io.Discard)
	require.NoError(t, err)
	defer st.Close()

	sess, err := st.openSession(ctx)
	require.NoError(t, err)
	defer sess.Close()

	_, err = sess.Orders.PlaceOrder(ctx, orders.Draft{
		OrderType: domain.OrderTypeTakeaway,
		Items: []domain.OrderItem{
			{ProductID: "p-3", Name: "Drink", Quantity: 1, FinalPrice: decimal.NewFromInt(120)},
		},
	})
	require.NoError(t, err)
}

// syncBuffer is a bytes.Buffer safe for the concurrent writes of a
// running server and its background loops.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
