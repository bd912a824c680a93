package completion

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/ifuryst/quill/internal/models"
	"github.com/ifuryst/quill/internal/service/provider"
	"github.com/ifuryst/quill/internal/service/usage"
)

func testRand() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

type scriptedCall struct {
	resp *provider.Response
	err  error
}

// fakeProvider replays scripted outcomes and records every request.
type fakeProvider struct {
	mu       sync.Mutex
	script   []scriptedCall
	requests []provider.Request
}

func (f *fakeProvider) Generate(ctx context.Context, req provider.Request) (*provider.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)
	if len(f.script) == 0 {
		return &provider.Response{StatusCode: 200, Text: "default text"}, nil
	}
	next := f.script[0]
	f.script = f.script[1:]
	return next.resp, next.err
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeSink struct {
	mu      sync.Mutex
	entries []usage.Entry
}

func (s *fakeSink) Record(_ context.Context, e usage.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
}

func ok(text, finish string) scriptedCall {
	return scriptedCall{resp: &provider.Response{StatusCode: 200, Text: text, FinishReason: finish, Raw: []byte(`{"choices":[]}`)}}
}

func newTestOrchestrator(p provider.Provider, sink UsageSink) *Orchestrator {
	return NewOrchestrator(p, testVocabulary(), sink, zap.NewNop(), WithRand(testRand()))
}

func testOrg() *models.Organization {
	return &models.Organization{ID: 9, Name: "Acme", ProductType: "apparel"}
}

func TestComplete_RetryThenSuccessRecordsOnce(t *testing.T) {
	p := &fakeProvider{script: []scriptedCall{
		{err: errors.New("connection reset")},
		ok("A soft cotton tee.", "stop"),
	}}
	sink := &fakeSink{}
	o := newTestOrchestrator(p, sink)

	res, err := o.Complete(context.Background(), Request{
		Organization: testOrg(),
		Template:     &models.PromptTemplate{Name: "description", Prompt: "Describe {{name}}:"},
		Input:        Input{Candidate: &models.Candidate{Name: "Tee", Ref: "SKU-1"}},
		AccountID:    "acct-1",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "A soft cotton tee.", res.Text)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 2, p.calls())

	require.Len(t, sink.entries, 1)
	entry := sink.entries[0]
	assert.Equal(t, uint(9), entry.OrganizationID)
	assert.Equal(t, "acct-1", entry.AccountID)
	assert.Equal(t, "description", entry.ComponentName)
	assert.Equal(t, "Tee", entry.Topic)
	assert.Equal(t, "Describe Tee:", entry.Prompt)
	assert.Equal(t, "A soft cotton tee.", entry.FinalText)
	assert.Equal(t, p.requests[1], entry.RequestParams)
}

func TestComplete_ProviderKeepsFailing(t *testing.T) {
	p := &fakeProvider{script: []scriptedCall{
		{resp: &provider.Response{StatusCode: 429, Message: "rate limited"}},
		{resp: &provider.Response{StatusCode: 429, Message: "rate limited"}},
	}}
	sink := &fakeSink{}
	o := newTestOrchestrator(p, sink)

	res, err := o.Complete(context.Background(), Request{
		Organization: testOrg(),
		Template:     &models.PromptTemplate{Name: "description", Prompt: "Describe {{name}}:"},
		Input:        Input{Candidate: &models.Candidate{Name: "Tee"}},
	})

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 429, perr.StatusCode)
	assert.False(t, res.Success)
	assert.Equal(t, "rate limited", res.ErrorMessage)
	assert.Equal(t, 2, res.Attempts)
	assert.Empty(t, sink.entries)
}

func TestComplete_ValidationSkipsProvider(t *testing.T) {
	p := &fakeProvider{}
	o := newTestOrchestrator(p, &fakeSink{})
	ctx := context.Background()

	res, err := o.Complete(ctx, Request{
		Organization: testOrg(),
		Template:     &models.PromptTemplate{Name: "blog intro", Prompt: "{{topic}}", RequiresTopic: true},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "topic", verr.Field)
	assert.Equal(t, "Please enter a topic for blog intro.", res.ErrorMessage)

	_, err = o.Complete(ctx, Request{
		Organization: testOrg(),
		Template:     &models.PromptTemplate{Name: "section", Prompt: "{{header}}", RequiresHeader: true},
		Input:        Input{Topic: "linen"},
	})
	assert.True(t, IsValidation(err))

	_, err = o.Complete(ctx, Request{Organization: testOrg()})
	assert.True(t, IsValidation(err))

	_, err = o.Complete(ctx, Request{
		Organization: testOrg(),
		Template:     &models.PromptTemplate{Name: "table", Prompt: "x", Shape: "table"},
	})
	assert.True(t, IsValidation(err))

	assert.Zero(t, p.calls())
}

func TestComplete_RequestParameters(t *testing.T) {
	p := &fakeProvider{script: []scriptedCall{ok("1. Durable\n2. Lightweight\n3. Breathable", "stop")}}
	o := newTestOrchestrator(p, &fakeSink{})

	res, err := o.Complete(context.Background(), Request{
		Organization: testOrg(),
		Template: &models.PromptTemplate{
			Name:               "features",
			Shape:              models.ShapeOrderedList,
			Prompt:             "List features of {{name}} by {{organization}}:\n",
			NumUnits:           3,
			Engine:             "list-engine",
			SuppressedKeywords: datatypes.JSONSlice[string]{"cheap"},
		},
		Input: Input{Candidate: &models.Candidate{Name: "Tee"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "<ol><li>Durable</li><li>Lightweight</li><li>Breathable</li></ol>", res.Text)
	assert.Equal(t, []string{"Durable", "Lightweight", "Breathable"}, res.Items)

	req := p.requests[0]
	assert.Equal(t, "List features of Tee by Acme:\n", req.Prompt)
	assert.Equal(t, "list-engine", req.Model)
	assert.Equal(t, 90, req.MaxTokens)
	assert.Equal(t, []string{"\n\n", "\n4."}, req.Stop)
	assert.Equal(t, -100, req.LogitBias[300])
	assert.Equal(t, -100, req.LogitBias[TokenEndOfText])
}

func TestComplete_StarterBecomesLead(t *testing.T) {
	p := &fakeProvider{script: []scriptedCall{ok(" you on a breezy walk.", "stop")}}
	o := newTestOrchestrator(p, &fakeSink{})

	res, err := o.Complete(context.Background(), Request{
		Organization: testOrg(),
		Template: &models.PromptTemplate{
			Name:     "story",
			Prompt:   "Write about {{topic}}.\n{{starter}} ",
			Starters: datatypes.JSONSlice[string]{"Imagine"},
		},
		Input:     Input{Topic: "linen shirts"},
		SessionID: "s1",
	})
	require.NoError(t, err)
	assert.Equal(t, "Write about linen shirts.\nImagine", p.requests[0].Prompt)
	assert.Equal(t, "Imagine you on a breezy walk.", res.Text)
}

func TestComplete_IntroWithoutStarter(t *testing.T) {
	p := &fakeProvider{script: []scriptedCall{ok(" tee is made for summer.", "stop")}}
	o := newTestOrchestrator(p, &fakeSink{})

	res, err := o.Complete(context.Background(), Request{
		Organization: testOrg(),
		Template: &models.PromptTemplate{
			Name:   "description",
			Prompt: "Describe {{name}}.\n",
			Intros: datatypes.JSONSlice[string]{"This"},
		},
		Input: Input{Candidate: &models.Candidate{Name: "Tee"}},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(p.requests[0].Prompt, "\nThis"))
	assert.Equal(t, "This tee is made for summer.", res.Text)
}

func TestComplete_Continuation(t *testing.T) {
	p := &fakeProvider{script: []scriptedCall{ok(", light and easy to pack", "stop")}}
	o := newTestOrchestrator(p, &fakeSink{})

	res, err := o.Complete(context.Background(), Request{
		Organization: testOrg(),
		Template: &models.PromptTemplate{
			Name:   "description",
			Prompt: "Describe {{name}}.\n",
			Intros: datatypes.JSONSlice[string]{"Ignored"},
		},
		Input: Input{Candidate: &models.Candidate{Name: "Tee"}, Existing: "This tee is soft"},
	})
	require.NoError(t, err)

	req := p.requests[0]
	assert.Equal(t, "Describe Tee.\nThis tee is soft", req.Prompt)
	assert.Equal(t, []string{".", "!", "?"}, req.Stop)
	assert.Equal(t, 100, req.MaxTokens)
	assert.Equal(t, "This tee is soft, light and easy to pack.", res.Text)
}

func TestComplete_EmptyOutput(t *testing.T) {
	p := &fakeProvider{script: []scriptedCall{ok("  ", "length")}}
	sink := &fakeSink{}
	o := newTestOrchestrator(p, sink)

	res, err := o.Complete(context.Background(), Request{
		Organization: testOrg(),
		Template:     &models.PromptTemplate{Name: "bullets", Shape: models.ShapeUnorderedList, Prompt: "x"},
	})
	assert.ErrorIs(t, err, ErrEmptyOutput)
	assert.False(t, res.Success)
	assert.Empty(t, sink.entries)
}
