// Package orchestrator runs one conversational turn: it enriches the prompt with recent
// context, classifies the model's answer and issues the follow-up calls that answer implies.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"scribe-backend/internal/apiclient"
	"scribe-backend/internal/conversation"
	"scribe-backend/internal/credential"
	"scribe-backend/internal/executor"
)

type Kind int

const (
	ContentUpdated Kind = iota + 1
	ChatReply
	Error
)

func (k Kind) String() string {
	switch k {
	case ContentUpdated:
		return "content_updated"
	case ChatReply:
		return "chat_reply"
	case Error:
		return "error"
	}
	return "unknown"
}

type ErrorKind string

const (
	ErrKindUnauthenticated  ErrorKind = "unauthenticated"
	ErrKindTimeout          ErrorKind = "timeout"
	ErrKindExhaustedRetries ErrorKind = "exhausted_retries"
	ErrKindNonRetryable     ErrorKind = "non_retryable"
	ErrKindUnavailable      ErrorKind = "unavailable"
	ErrKindUpstream         ErrorKind = "upstream"
	ErrKindCanceled         ErrorKind = "canceled"
	ErrKindInternal         ErrorKind = "internal"
)

var ErrEmptyInput = errors.New("input is empty")

// Outcome is the result of one turn. Content is the document after a
// ContentUpdated turn; Reply is what was appended to the conversation.
type Outcome struct {
	Kind      Kind
	Content   string
	Reply     string
	TaskType  TaskType
	ModelUsed string
	Notices   []string
	ErrorKind ErrorKind
	Err       error
}

type Generator interface {
	Generate(ctx context.Context, req apiclient.GenerateRequest) (*apiclient.GenerateResponse, error)
}

type Document interface {
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, content string) error
}

type Orchestrator struct {
	gen    Generator
	window *conversation.Window
	doc    Document
	logger *slog.Logger
}

func New(gen Generator, window *conversation.Window, doc Document, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{gen: gen, window: window, doc: doc, logger: logger}
}

// turn tracks what a single Handle call has changed so it can be undone.
type turn struct {
	input   string
	model   string
	mark    int
	prevDoc string
	out     Outcome
}

func (t *turn) observe(resp *apiclient.GenerateResponse) {
	if resp.Message != "" && !contains(t.out.Notices, resp.Message) {
		t.out.Notices = append(t.out.Notices, resp.Message)
	}
	if resp.Model != "" && resp.Model != t.model && resp.Message == "" {
		n := fmt.Sprintf("Response generated by %s instead of %s", resp.Model, t.model)
		if !contains(t.out.Notices, n) {
			t.out.Notices = append(t.out.Notices, n)
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Handle runs one turn. Cancelling ctx aborts the in-flight call, skips pending follow-ups
// and rolls the conversation and document back to their state before the turn.
func (o *Orchestrator) Handle(ctx context.Context, input, model string) Outcome {
	if strings.TrimSpace(input) == "" {
		return Outcome{Kind: Error, ErrorKind: ErrKindInternal, Err: ErrEmptyInput}
	}

	prevDoc, err := o.doc.Get(ctx)
	if err != nil {
		return Outcome{Kind: Error, ErrorKind: ErrKindInternal, Err: err}
	}
	// Recent purges expired entries, so the rollback mark is taken after it.
	history := o.window.Recent(ContextSize)
	t := &turn{input: input, model: model, mark: o.window.Len(), prevDoc: prevDoc}
	if _, err := o.window.Append(ctx, conversation.RoleUser, input); err != nil {
		return o.fail(ctx, t, err)
	}

	first, err := o.gen.Generate(ctx, apiclient.GenerateRequest{Prompt: BuildPrompt(history, input), Model: model})
	if err != nil {
		return o.fail(ctx, t, err)
	}
	t.observe(first)
	t.out.ModelUsed = first.Model

	task, body := ParseTaskType(first.Content)
	t.out.TaskType = task
	o.logger.Debug("classified response", slog.String("task_type", string(task)), slog.String("model", first.Model))

	switch task {
	case TaskGenerate:
		saved, err := o.gen.Generate(ctx, apiclient.GenerateRequest{Prompt: input, Model: model, SaveContent: true})
		if err != nil {
			return o.fail(ctx, t, err)
		}
		t.observe(saved)
		t.out.ModelUsed = saved.Model
		if err := o.doc.Set(ctx, saved.Content); err != nil {
			return o.fail(ctx, t, err)
		}
		t.out.Content = saved.Content
		return o.acknowledge(ctx, t)

	case TaskEdit:
		if err := o.doc.Set(ctx, body); err != nil {
			return o.fail(ctx, t, err)
		}
		t.out.Content = body
		return o.acknowledge(ctx, t)

	default:
		if _, err := o.window.Append(ctx, conversation.RoleAssistant, body); err != nil {
			return o.fail(ctx, t, err)
		}
		t.out.Kind = ChatReply
		t.out.Reply = body
		return t.out
	}
}

func (o *Orchestrator) acknowledge(ctx context.Context, t *turn) Outcome {
	ack, err := o.gen.Generate(ctx, apiclient.GenerateRequest{
		Prompt: acknowledgePrompt(t.out.TaskType, t.input),
		Model:  t.model,
	})
	if err != nil {
		return o.fail(ctx, t, err)
	}
	t.observe(ack)

	if _, err := o.window.Append(ctx, conversation.RoleAssistant, ack.Content); err != nil {
		return o.fail(ctx, t, err)
	}
	t.out.Kind = ContentUpdated
	t.out.Reply = ack.Content
	return t.out
}

func (o *Orchestrator) fail(ctx context.Context, t *turn, err error) Outcome {
	kind := Classify(ctx, err)
	t.out.Kind = Error
	t.out.ErrorKind = kind
	t.out.Err = err

	// Rollback must outlive the cancelled turn context.
	bg := context.WithoutCancel(ctx)

	if kind == ErrKindCanceled {
		if rerr := o.window.Truncate(bg, t.mark); rerr != nil {
			o.logger.Error("failed to roll back conversation", slog.String("error", rerr.Error()))
		}
		if rerr := o.doc.Set(bg, t.prevDoc); rerr != nil {
			o.logger.Error("failed to restore document", slog.String("error", rerr.Error()))
		}
		t.out.Content = ""
		t.out.Reply = ""
		return t.out
	}

	o.logger.Warn("turn failed", slog.String("kind", string(kind)), slog.String("error", err.Error()))
	reply := "Sorry, I encountered an error: " + userMessage(err)
	if _, aerr := o.window.Append(bg, conversation.RoleAssistant, reply); aerr != nil {
		o.logger.Error("failed to record error reply", slog.String("error", aerr.Error()))
	}
	t.out.Reply = reply
	return t.out
}

// Classify maps a failure from the call pipeline to the kind reported to the caller.
func Classify(ctx context.Context, err error) ErrorKind {
	var (
		te *executor.TimeoutError
		ex *executor.ExhaustedRetriesError
		nr *executor.NonRetryableError
	)
	switch {
	case errors.Is(err, context.Canceled) || (ctx.Err() != nil && errors.Is(err, ctx.Err())):
		return ErrKindCanceled
	case errors.Is(err, credential.ErrUnauthenticated):
		return ErrKindUnauthenticated
	case errors.As(err, &te):
		return ErrKindTimeout
	case errors.As(err, &ex):
		return ErrKindExhaustedRetries
	case errors.As(err, &nr):
		switch executor.ParseErrorBody(nr.Body).Error {
		case "Unavailable":
			return ErrKindUnavailable
		case "Upstream":
			return ErrKindUpstream
		}
		return ErrKindNonRetryable
	}
	return ErrKindInternal
}

func userMessage(err error) string {
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "Failed to process your request. Please try again."
}
