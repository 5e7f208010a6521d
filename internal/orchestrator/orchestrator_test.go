package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"scribe-backend/internal/apiclient"
	"scribe-backend/internal/conversation"
	"scribe-backend/internal/credential"
	"scribe-backend/internal/document"
	"scribe-backend/internal/executor"
	"scribe-backend/internal/kv"
)

type scriptedCall struct {
	resp *apiclient.GenerateResponse
	err  error
	// block waits for ctx cancellation instead of answering.
	block bool
}

type scriptedGenerator struct {
	script []scriptedCall
	calls  []apiclient.GenerateRequest
	n      atomic.Int32
}

func (g *scriptedGenerator) Generate(ctx context.Context, req apiclient.GenerateRequest) (*apiclient.GenerateResponse, error) {
	g.calls = append(g.calls, req)
	g.n.Add(1)
	if len(g.calls) > len(g.script) {
		return nil, errors.New("unexpected call")
	}
	step := g.script[len(g.calls)-1]
	if step.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return step.resp, step.err
}

func reply(content, model string) scriptedCall {
	return scriptedCall{resp: &apiclient.GenerateResponse{Content: content, Model: model}}
}

type fixture struct {
	gen    *scriptedGenerator
	window *conversation.Window
	doc    *document.Store
	orch   *Orchestrator
}

func newFixture(t *testing.T, script ...scriptedCall) *fixture {
	t.Helper()
	store := kv.NewMemoryStore()
	window, err := conversation.Open(context.Background(), store,
		conversation.WithSeed(conversation.Message{Content: "Hello! How can I help you today?"}))
	require.NoError(t, err)

	doc := document.NewStore(store)
	gen := &scriptedGenerator{script: script}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{gen: gen, window: window, doc: doc, orch: New(gen, window, doc, logger)}
}

func (f *fixture) document(t *testing.T) string {
	t.Helper()
	d, err := f.doc.Get(context.Background())
	require.NoError(t, err)
	return d
}

func TestHandle_GenerateIssuesSaveAndAcknowledge(t *testing.T) {
	f := newFixture(t,
		reply("TASK_TYPE: GENERATE\nHere is a draft from the enriched prompt", "gemini-pro"),
		reply("# Cats\n\nThe saved article.", "gemini-pro"),
		reply("I've written the post. Want me to refine it?", "gemini-pro"),
	)

	out := f.orch.Handle(context.Background(), "write a blog post about cats", "gemini-pro")
	require.Equal(t, ContentUpdated, out.Kind)
	require.Equal(t, TaskGenerate, out.TaskType)
	require.Equal(t, "# Cats\n\nThe saved article.", out.Content)
	require.Equal(t, "I've written the post. Want me to refine it?", out.Reply)
	require.Equal(t, "gemini-pro", out.ModelUsed)

	require.Len(t, f.gen.calls, 3)
	require.Contains(t, f.gen.calls[0].Prompt, "User input: write a blog post about cats")
	require.False(t, f.gen.calls[0].SaveContent)
	require.Equal(t, "write a blog post about cats", f.gen.calls[1].Prompt)
	require.True(t, f.gen.calls[1].SaveContent)
	require.Contains(t, f.gen.calls[2].Prompt, `You've just generated content based on this request: "write a blog post about cats"`)
	require.False(t, f.gen.calls[2].SaveContent)

	// The document holds the save result, never the enriched-call body or the acknowledgment.
	require.Equal(t, "# Cats\n\nThe saved article.", f.document(t))

	msgs := f.window.Recent(0)
	require.Len(t, msgs, 3)
	require.Equal(t, conversation.RoleUser, msgs[1].Role)
	require.Equal(t, "I've written the post. Want me to refine it?", msgs[2].Content)
}

func TestHandle_UnrecognizedIsChatWithNoFollowUp(t *testing.T) {
	f := newFixture(t, reply("Cats purr when they are content.", "gemini-pro"))

	out := f.orch.Handle(context.Background(), "why do cats purr?", "gemini-pro")
	require.Equal(t, ChatReply, out.Kind)
	require.Equal(t, TaskChat, out.TaskType)
	require.Equal(t, "Cats purr when they are content.", out.Reply)
	require.Len(t, f.gen.calls, 1)
	require.Empty(t, f.document(t))
}

func TestHandle_ChatMarker(t *testing.T) {
	f := newFixture(t, reply("TASK_TYPE: CHAT\nSure, happy to help.", "gemini-pro"))

	out := f.orch.Handle(context.Background(), "hi", "gemini-pro")
	require.Equal(t, ChatReply, out.Kind)
	require.Equal(t, "Sure, happy to help.", out.Reply)
	require.Len(t, f.gen.calls, 1)
}

func TestHandle_EditReplacesDocumentThenAcknowledges(t *testing.T) {
	f := newFixture(t,
		reply("TASK_TYPE: EDIT\n# Cats\n\nShorter version.", "gemini-pro"),
		reply("I've shortened it.", "gemini-pro"),
	)
	require.NoError(t, f.doc.Set(context.Background(), "# Cats\n\nLong version."))

	out := f.orch.Handle(context.Background(), "make it shorter", "gemini-pro")
	require.Equal(t, ContentUpdated, out.Kind)
	require.Equal(t, TaskEdit, out.TaskType)
	require.Equal(t, "# Cats\n\nShorter version.", f.document(t))
	require.Len(t, f.gen.calls, 2)
	require.Contains(t, f.gen.calls[1].Prompt, "You've just edited content")
	require.Equal(t, "I've shortened it.", out.Reply)
}

func TestHandle_FailureAppendsErrorReply(t *testing.T) {
	f := newFixture(t, scriptedCall{err: &executor.ExhaustedRetriesError{
		Status:   503,
		Body:     []byte(`{"message":"Provider temporarily unavailable","error":"Upstream"}`),
		Attempts: 3,
	}})

	out := f.orch.Handle(context.Background(), "write a blog post about cats", "gemini-pro")
	require.Equal(t, Error, out.Kind)
	require.Equal(t, ErrKindExhaustedRetries, out.ErrorKind)
	require.True(t, strings.HasPrefix(out.Reply, "Sorry, I encountered an error: "))

	msgs := f.window.Recent(0)
	last := msgs[len(msgs)-1]
	require.Equal(t, conversation.RoleAssistant, last.Role)
	require.Equal(t, out.Reply, last.Content)
	require.Equal(t, conversation.RoleUser, msgs[len(msgs)-2].Role)
}

func TestHandle_FailureInFollowUpKeepsSavedDocument(t *testing.T) {
	f := newFixture(t,
		reply("TASK_TYPE: GENERATE\ndraft", "gemini-pro"),
		reply("saved", "gemini-pro"),
		scriptedCall{err: &executor.TimeoutError{Method: "POST", Path: "/api/generate", Timeout: 30 * time.Second}},
	)

	out := f.orch.Handle(context.Background(), "write", "gemini-pro")
	require.Equal(t, Error, out.Kind)
	require.Equal(t, ErrKindTimeout, out.ErrorKind)
	require.Equal(t, "saved", f.document(t))
}

func TestHandle_CancelRollsBackTurn(t *testing.T) {
	f := newFixture(t,
		reply("TASK_TYPE: GENERATE\ndraft", "gemini-pro"),
		reply("new document", "gemini-pro"),
		scriptedCall{block: true},
	)
	require.NoError(t, f.doc.Set(context.Background(), "old document"))
	before := f.window.Recent(0)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for f.gen.n.Load() < 3 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	out := f.orch.Handle(ctx, "write", "gemini-pro")
	require.Equal(t, Error, out.Kind)
	require.Equal(t, ErrKindCanceled, out.ErrorKind)
	require.Equal(t, before, f.window.Recent(0))
	require.Equal(t, "old document", f.document(t))
}

func TestHandle_CancelAfterIdleWindowLeavesNoUserTurn(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store := kv.NewMemoryStore()
	window, err := conversation.Open(context.Background(), store,
		conversation.WithClock(clock),
		conversation.WithSeed(conversation.Message{Content: "Hello!"}))
	require.NoError(t, err)
	for _, m := range []string{"one", "two", "three", "four"} {
		_, err := window.Append(context.Background(), conversation.RoleUser, m)
		require.NoError(t, err)
	}

	gen := &scriptedGenerator{script: []scriptedCall{{block: true}}}
	orch := New(gen, window, document.NewStore(store), slog.New(slog.NewTextHandler(io.Discard, nil)))

	// The whole history expires while the session sits idle.
	now = now.Add(25 * time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for gen.n.Load() < 1 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	out := orch.Handle(ctx, "write a blog post about cats", "gemini-pro")
	require.Equal(t, ErrKindCanceled, out.ErrorKind)

	msgs := window.Recent(0)
	require.Len(t, msgs, 1)
	require.Equal(t, conversation.RoleAssistant, msgs[0].Role)
	require.Equal(t, "Hello!", msgs[0].Content)
}

func TestHandle_FallbackIsReported(t *testing.T) {
	const notice = "Content was generated using a fallback model due to safety filters"
	f := newFixture(t, scriptedCall{resp: &apiclient.GenerateResponse{
		Content: "TASK_TYPE: CHAT\nHere you go.",
		Model:   "llama-3.3-70b-versatile",
		Message: notice,
	}})

	out := f.orch.Handle(context.Background(), "write a blog post about cats", "gemini-pro")
	require.Equal(t, ChatReply, out.Kind)
	require.Equal(t, "llama-3.3-70b-versatile", out.ModelUsed)
	require.NotEqual(t, "gemini-pro", out.ModelUsed)
	require.Equal(t, []string{notice}, out.Notices)
}

func TestHandle_ModelDivergenceWithoutMessageStillReported(t *testing.T) {
	f := newFixture(t, reply("TASK_TYPE: CHAT\nok", "llama-3.3-70b-versatile"))

	out := f.orch.Handle(context.Background(), "hi", "gemini-pro")
	require.Len(t, out.Notices, 1)
	require.Contains(t, out.Notices[0], "llama-3.3-70b-versatile")
}

func TestHandle_EmptyInput(t *testing.T) {
	f := newFixture(t)
	before := f.window.Len()

	out := f.orch.Handle(context.Background(), "   ", "gemini-pro")
	require.Equal(t, Error, out.Kind)
	require.ErrorIs(t, out.Err, ErrEmptyInput)
	require.Equal(t, before, f.window.Len())
	require.Empty(t, f.gen.calls)
}

func TestClassify(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"unauthenticated", credential.ErrUnauthenticated, ErrKindUnauthenticated},
		{"wrapped unauthenticated", errors.Join(errors.New("x"), credential.ErrUnauthenticated), ErrKindUnauthenticated},
		{"timeout", &executor.TimeoutError{}, ErrKindTimeout},
		{"exhausted", &executor.ExhaustedRetriesError{Status: 500}, ErrKindExhaustedRetries},
		{"unavailable", &executor.NonRetryableError{Status: 403, Body: []byte(`{"message":"m","error":"Unavailable"}`)}, ErrKindUnavailable},
		{"upstream", &executor.NonRetryableError{Status: 422, Body: []byte(`{"message":"m","error":"Upstream"}`)}, ErrKindUpstream},
		{"non retryable", &executor.NonRetryableError{Status: 400, Body: []byte(`{"message":"m","error":"Bad Request"}`)}, ErrKindNonRetryable},
		{"canceled", context.Canceled, ErrKindCanceled},
		{"other", errors.New("boom"), ErrKindInternal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Classify(ctx, tc.err))
		})
	}
}
