package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/accountguard"
	"github.com/MrEthical07/accountguard/internal/audit"
	"github.com/MrEthical07/accountguard/internal/infra/postgres"
)

func sealedEvents(t *testing.T, head audit.Head, n int) []audit.Event {
	t.Helper()
	chain := audit.NewChain(head)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := make([]audit.Event, 0, n)
	for i := 0; i < n; i++ {
		ev, err := chain.Seal(audit.Event{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Actor:     "u1",
			Action:    audit.ActionLoginFailed,
			Outcome:   audit.OutcomeFailure,
		})
		require.NoError(t, err)
		events = append(events, ev)
	}
	return events
}

func writeAuditFile(t *testing.T, path string, events []audit.Event) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	defer f.Close()

	sink := accountguard.NewJSONWriterSink(f)
	for _, ev := range events {
		require.NoError(t, sink.Write(context.Background(), ev))
	}
}

func TestAuditVerifyCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	writeAuditFile(t, path, sealedEvents(t, audit.Head{}, 3))

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"audit", "verify", "--file", path})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "audit chain verified: 3 events\n", out.String())
}

func TestAuditVerifyDetectsTampering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	writeAuditFile(t, path, sealedEvents(t, audit.Head{}, 3))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(raw), `"actor":"u1"`, `"actor":"u2"`, 1)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0o600))

	_, err = verifyAuditFile(path)
	var chainErr *audit.ChainError
	require.ErrorAs(t, err, &chainErr)
	assert.Equal(t, 0, chainErr.Index)
}

func TestAuditVerifyRequiresSource(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"audit", "verify"})

	assert.ErrorContains(t, cmd.Execute(), "--file or --postgres")
}

type pagedSource struct {
	events []audit.Event
	calls  int
}

func (s *pagedSource) Events(_ context.Context, fromSeq uint64, limit int) ([]audit.Event, error) {
	s.calls++
	var page []audit.Event
	for _, ev := range s.events {
		if ev.Seq >= fromSeq && len(page) < limit {
			page = append(page, ev)
		}
	}
	return page, nil
}

func TestVerifyAuditPages(t *testing.T) {
	events := sealedEvents(t, audit.Head{}, 7)

	src := &pagedSource{events: events}
	n, err := verifyAuditPages(context.Background(), src, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, 3, src.calls)

	// a gap that falls exactly on a page boundary is still caught
	withGap := append(append([]audit.Event{}, events[:3]...), events[4:]...)
	_, err = verifyAuditPages(context.Background(), &pagedSource{events: withGap}, 1, 3)
	var chainErr *audit.ChainError
	require.ErrorAs(t, err, &chainErr)
	assert.Equal(t, uint64(5), chainErr.Seq)
}

func TestFileAuditSinkResumesChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	sink, err := openFileAuditSink(path)
	require.NoError(t, err)
	head, err := sink.Head(context.Background())
	require.NoError(t, err)
	assert.Equal(t, audit.Head{}, head)

	first := sealedEvents(t, head, 2)
	for _, ev := range first {
		require.NoError(t, sink.Write(context.Background(), ev))
	}
	require.NoError(t, sink.Close())

	reopened, err := openFileAuditSink(path)
	require.NoError(t, err)
	head, err = reopened.Head(context.Background())
	require.NoError(t, err)
	assert.Equal(t, audit.Head{Seq: 2, Hash: first[1].Hash}, head)

	for _, ev := range sealedEvents(t, head, 2) {
		require.NoError(t, reopened.Write(context.Background(), ev))
	}
	require.NoError(t, reopened.Close())

	n, err := verifyAuditFile(path)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestFileAuditSinkRequiresPath(t *testing.T) {
	_, err := openFileAuditSink("")
	assert.Error(t, err)
}

func TestAccountProviderMapsNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	provider := &accountProvider{repo: postgres.NewAccountRepository(mock)}
	ctx := context.Background()

	mock.ExpectQuery("SELECT id, email, disabled").
		WithArgs("alice@example.com").
		WillReturnRows(pgxmock.NewRows([]string{"id", "email", "disabled"}).AddRow("u1", "alice@example.com", true))
	account, err := provider.AccountByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, accountguard.Account{ID: "u1", Email: "alice@example.com", Disabled: true}, account)

	mock.ExpectQuery("SELECT id, email, disabled").
		WithArgs("nobody@example.com").
		WillReturnError(pgx.ErrNoRows)
	_, err = provider.AccountByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, accountguard.ErrAccountNotFound)

	mock.ExpectExec("UPDATE users").
		WithArgs("u404", "hash", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.ErrorIs(t, provider.UpdateCredentialHash(ctx, "u404", "hash"), accountguard.ErrAccountNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRootCommandTree(t *testing.T) {
	cmd := newRootCommand()
	for _, path := range [][]string{
		{"serve"},
		{"audit", "verify"},
		{"lockout", "status"},
		{"lockout", "unlock"},
		{"tokens", "purge"},
	} {
		found, _, err := cmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], found.Name())
	}
}
