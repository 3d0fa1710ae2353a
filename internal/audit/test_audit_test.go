package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSink_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "audit.jsonl")
	sink, err := Open(context.Background(), Config{Kind: "file", Path: path})
	require.NoError(t, err)

	runID := NewRunID()
	require.NoError(t, sink.Record(context.Background(), Entry{RunID: runID, Kind: KindIteration, Index: 0, Artifact: "a < b"}))
	require.NoError(t, sink.Record(context.Background(), Entry{RunID: runID, Kind: KindOutcome, Index: 1, Status: "success"}))
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var got []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		got = append(got, e)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "a < b", got[0].Artifact)
	assert.Equal(t, "success", got[1].Status)
	assert.False(t, got[0].Time.IsZero())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"artifact":"a < b"`)
}

func TestPostgresSink_Record(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink := NewPostgresSink(mock)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS promptloop_audit").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("INSERT INTO promptloop_audit").
		WithArgs("run-1", KindToolStep, "lookup", 2, "", 0, 0, "ok", "", `{"tool":"get_data"}`, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, sink.EnsureSchema(context.Background()))
	err = sink.Record(context.Background(), Entry{
		RunID:  "run-1",
		Kind:   KindToolStep,
		Task:   "lookup",
		Index:  2,
		Status: "ok",
		Detail: map[string]any{"tool": "get_data"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSink_InsertError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	args := make([]any, 11)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	mock.ExpectExec("INSERT INTO promptloop_audit").
		WithArgs(args...).
		WillReturnError(errors.New("connection reset"))
	err = NewPostgresSink(mock).Record(context.Background(), Entry{RunID: "r", Kind: KindIteration})
	assert.ErrorContains(t, err, "audit: insert entry: connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWebsocketSink_StreamsEntries(t *testing.T) {
	received := make(chan Entry, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var e Entry
			if err := conn.ReadJSON(&e); err != nil {
				return
			}
			received <- e
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	sink, err := DialWebsocket(context.Background(), url)
	require.NoError(t, err)
	require.NoError(t, sink.Record(context.Background(), Entry{RunID: "r", Kind: KindIteration, Passed: 3}))

	select {
	case e := <-received:
		assert.Equal(t, 3, e.Passed)
		assert.Equal(t, KindIteration, e.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
	}
	require.NoError(t, sink.Close())
}

type failingSink struct{ closed bool }

func (f *failingSink) Record(context.Context, Entry) error { return errors.New("down") }
func (f *failingSink) Close() error                        { f.closed = true; return nil }

func TestMulti_JoinsErrors(t *testing.T) {
	bad := &failingSink{}
	m := Multi{Nop{}, nil, bad}
	err := m.Record(context.Background(), Entry{})
	assert.ErrorContains(t, err, "down")
	require.NoError(t, m.Close())
	assert.True(t, bad.closed)
}

func TestObjectKeyAndOpen(t *testing.T) {
	key := ObjectKey("audit", Entry{RunID: "abc", Index: 3, Kind: KindIteration})
	assert.Equal(t, "audit/abc/0003-refine-iteration.json", key)

	s, err := Open(context.Background(), Config{})
	require.NoError(t, err)
	assert.Equal(t, Nop{}, s)

	_, err = Open(context.Background(), Config{Kind: "kafka"})
	assert.ErrorContains(t, err, "unknown sink kind")

	_, err = Open(context.Background(), Config{Kind: "s3", Endpoint: "localhost:9000"})
	assert.ErrorContains(t, err, "access key")
}
