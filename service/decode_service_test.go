package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"decodebook-backend/models"
	"decodebook-backend/storage"
)

const emtAnswer = `{
  "rules": [
    {
      "ruleNumber": "12-618",
      "section": null,
      "subsection": null,
      "title": "EMT outdoors",
      "subRuleLabel": ["1)", "2)"],
      "relevanceExplanation": "Permits tubing outdoors when protected against corrosion."
    }
  ],
  "conclusion": "EMT is permitted outdoors when it is protected against corrosion and uses raintight fittings [12-618]."
}`

func newTestService(store RuleStore, model ChatModel, opts ...DecodeServiceOption) *DecodeService {
	base := []DecodeServiceOption{
		DecodeWithRuleStore(store),
		DecodeWithEmbedder(&fakeEmbedder{}),
		DecodeWithChatModel(model),
	}
	return NewDecodeService(append(base, opts...)...)
}

func TestAskEMTOutdoors(t *testing.T) {
	store := newFakeStore()
	model := &scriptedModel{turns: []ModelTurn{
		call(models.ToolSemanticSearch, "semanticQuery", "EMT conduit outdoors"),
		call(models.ToolGetCode, "ruleId", "12-618"),
		final(emtAnswer),
	}}
	progress := &progressRecorder{}

	svc := newTestService(store, model)
	result, err := svc.Ask(context.Background(), AskRequest{
		Query:    "Is EMT conduit permitted outdoors?",
		Progress: progress,
	})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}

	if result.Outcome != OutcomeAnswered {
		t.Fatalf("Outcome = %s, want %s", result.Outcome, OutcomeAnswered)
	}
	if len(result.Answer.Rules) != 1 || result.Answer.Rules[0].RuleNumber != "12-618" {
		t.Fatalf("rules = %v, want [12-618]", result.Answer.RuleNumbers())
	}
	citation := result.Answer.Rules[0]
	if citation.Title == nil || *citation.Title != "Electrical metallic tubing, outdoor use" {
		t.Errorf("title not copied from corpus: %v", citation.Title)
	}
	if citation.Section == nil || *citation.Section != "Wiring methods" {
		t.Errorf("section not copied from corpus: %v", citation.Section)
	}

	// semantic results reach the model without similarity scores
	payload := model.session.toolResponse(1, 0)
	results, ok := payload["results"].([]any)
	if !ok || len(results) == 0 {
		t.Fatalf("semanticSearch payload = %v, want results", payload)
	}
	first := results[0].(map[string]any)
	if first["ruleId"] != "12-618" {
		t.Errorf("top semantic match = %v, want 12-618", first["ruleId"])
	}
	if _, leaked := first["similarity"]; leaked {
		t.Error("similarity score leaked to the model")
	}

	// getCode returns full content
	rule := model.session.toolResponse(2, 0)["rule"].(map[string]any)
	if rule["content"] != store.rules["12-618"].Content {
		t.Errorf("getCode content = %v, want full rule text", rule["content"])
	}

	want := []string{"Preparing assistant…", "Performing semantic lookup", "Looking up code rule 12-618"}
	got := progress.updates()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("progress = %q, want %q", got, want)
	}
	for i := 1; i < len(progress.events); i++ {
		if progress.events[i].Step < progress.events[i-1].Step {
			t.Errorf("progress step went backwards: %v", progress.events)
		}
	}

	if len(result.Steps) != 3 {
		t.Errorf("len(Steps) = %d, want 3", len(result.Steps))
	}
}

func TestAskNotFound(t *testing.T) {
	model := &scriptedModel{turns: []ModelTurn{
		call(models.ToolSemanticSearch, "semanticQuery", "aircraft landing lights"),
		final(`{"rules": [], "conclusion": "I could not find anything."}`),
	}}

	svc := newTestService(newFakeStore(), model)
	result, err := svc.Ask(context.Background(), AskRequest{Query: "What colour are aircraft landing lights?"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}

	payload := model.session.toolResponse(1, 0)
	if count, _ := payload["count"].(float64); count != 0 {
		t.Errorf("semantic count = %v, want 0", payload["count"])
	}
	if result.Outcome != OutcomeNotFound {
		t.Errorf("Outcome = %s, want %s", result.Outcome, OutcomeNotFound)
	}
	if len(result.Answer.Rules) != 0 {
		t.Errorf("rules = %v, want empty", result.Answer.RuleNumbers())
	}
	if result.Answer.Conclusion != models.NotFoundConclusion {
		t.Errorf("Conclusion = %q, want not-found sentinel", result.Answer.Conclusion)
	}
}

func TestAskGetCodeMissingRule(t *testing.T) {
	model := &scriptedModel{turns: []ModelTurn{
		call(models.ToolGetCode, "ruleId", "99-9999"),
		final(`{"rules":[{"ruleNumber":"99-9999","subRuleLabel":[],"relevanceExplanation":"Made up."}],"conclusion":"See [99-9999]."}`),
		final(`{"rules": [], "conclusion": "none"}`),
	}}

	svc := newTestService(newFakeStore(), model)
	result, err := svc.Ask(context.Background(), AskRequest{Query: "What does rule 99-9999 say?"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}

	payload := model.session.toolResponse(1, 0)
	rule, present := payload["rule"]
	if !present || rule != nil {
		t.Errorf("getCode payload = %v, want rule: null", payload)
	}

	correction := model.session.received[2][0].Text
	if !strings.Contains(correction, "99-9999") {
		t.Errorf("correction %q does not mention the unconfirmed rule", correction)
	}
	if result.Outcome != OutcomeNotFound {
		t.Errorf("Outcome = %s, want %s", result.Outcome, OutcomeNotFound)
	}
}

func TestAskSchemaFailureAfterBudget(t *testing.T) {
	turns := make([]ModelTurn, MaxReasoningSteps)
	for i := range turns {
		turns[i] = final("I think EMT is fine outdoors.")
	}
	model := &scriptedModel{turns: turns}
	archive, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}

	svc := newTestService(newFakeStore(), model, DecodeWithArchive(archive))
	result, err := svc.Ask(context.Background(), AskRequest{Query: "Is EMT ok outdoors?"})
	if result != nil {
		t.Errorf("result = %+v, want nil", result)
	}
	if !errors.Is(err, ErrSchemaValidation) {
		t.Fatalf("err = %v, want ErrSchemaValidation", err)
	}

	var runErr *RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("err = %T, want *RunError", err)
	}

	last := model.session.received[MaxReasoningSteps-1]
	if last[len(last)-1].Text != finalStepNotice {
		t.Errorf("final step did not carry the final-step notice")
	}

	transcript, err := svc.GetTranscript(context.Background(), runErr.RunID)
	if err != nil {
		t.Fatalf("GetTranscript: %v", err)
	}
	if len(transcript.RawOutputs) != MaxReasoningSteps {
		t.Errorf("len(RawOutputs) = %d, want %d", len(transcript.RawOutputs), MaxReasoningSteps)
	}
	if transcript.Failure == "" {
		t.Error("transcript failure not recorded")
	}

	if err := svc.DeleteTranscript(context.Background(), runErr.RunID); err != nil {
		t.Fatalf("DeleteTranscript: %v", err)
	}
	if _, err := svc.GetTranscript(context.Background(), runErr.RunID); !errors.Is(err, ErrTranscriptNotFound) {
		t.Errorf("GetTranscript after delete err = %v, want ErrTranscriptNotFound", err)
	}
	if err := svc.DeleteTranscript(context.Background(), runErr.RunID); !errors.Is(err, ErrTranscriptNotFound) {
		t.Errorf("second DeleteTranscript err = %v, want ErrTranscriptNotFound", err)
	}
}

func TestAskToolOnlyTurnsYieldNoConfirmedAnswer(t *testing.T) {
	turns := make([]ModelTurn, MaxReasoningSteps)
	for i := range turns {
		turns[i] = call(models.ToolKeywordSearch, "text", "tubing")
	}
	model := &scriptedModel{turns: turns}

	svc := newTestService(newFakeStore(), model)
	result, err := svc.Ask(context.Background(), AskRequest{Query: "Tell me about tubing"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if result.Outcome != OutcomeNoConfirmedAnswer {
		t.Errorf("Outcome = %s, want %s", result.Outcome, OutcomeNoConfirmedAnswer)
	}
	if result.Answer != nil {
		t.Errorf("Answer = %+v, want nil", result.Answer)
	}
	if len(result.Steps) != MaxReasoningSteps {
		t.Errorf("len(Steps) = %d, want %d", len(result.Steps), MaxReasoningSteps)
	}
	if len(model.session.received) != MaxReasoningSteps {
		t.Errorf("model called %d times, want %d", len(model.session.received), MaxReasoningSteps)
	}
}

func TestAskWebSearchGating(t *testing.T) {
	web := &fakeWeb{results: []WebResult{
		{Title: "EMT outdoors", Snippet: "Rule 12-618 applies, see also 26-244 for wet locations."},
	}}
	both := `{"rules":[
	  {"ruleNumber":"12-618","subRuleLabel":["1)"],"relevanceExplanation":"Allows tubing outdoors."},
	  {"ruleNumber":"26-244","subRuleLabel":[],"relevanceExplanation":"Requires equipment suitable for wet locations."}
	],"conclusion":"EMT may be used outdoors [12-618], with equipment suited to wet locations [26-244]."}`

	model := &scriptedModel{turns: []ModelTurn{
		call(models.ToolWebSearch, "query", "EMT outdoors exceptions"),
		call(models.ToolGetCode, "ruleId", "12-618"),
		call(models.ToolWebSearch, "query", "12-618 exceptions"),
		final(both),
		call(models.ToolGetCode, "ruleId", "26-244"),
		final(both),
	}}

	svc := newTestService(newFakeStore(), model, DecodeWithWebSearcher(web))
	result, err := svc.Ask(context.Background(), AskRequest{Query: "Is EMT conduit permitted outdoors?"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}

	gated := model.session.toolResponse(1, 0)
	if _, ok := gated["error"]; !ok {
		t.Errorf("first webSearch payload = %v, want error", gated)
	}

	surfaced := model.session.toolResponse(3, 0)
	unconfirmed, _ := surfaced["unconfirmedRuleIds"].([]any)
	if len(unconfirmed) != 1 || unconfirmed[0] != "26-244" {
		t.Errorf("unconfirmedRuleIds = %v, want [26-244]", surfaced["unconfirmedRuleIds"])
	}

	rejection := model.session.received[4][0].Text
	if !strings.Contains(rejection, "26-244") || !strings.Contains(rejection, "web") {
		t.Errorf("web-only citation was not rejected: %q", rejection)
	}

	if web.calls != 1 {
		t.Errorf("web searcher called %d times, want 1", web.calls)
	}
	if result.Outcome != OutcomeAnswered || len(result.Answer.Rules) != 2 {
		t.Fatalf("result = %+v, want two confirmed rules", result)
	}
}

func TestAskRunsSeveralToolCallsInOrder(t *testing.T) {
	web := &fakeWeb{results: []WebResult{{Title: "EMT", Snippet: "See 12-618."}}}
	model := &scriptedModel{turns: []ModelTurn{
		{ToolCalls: []ToolCallRequest{
			{Name: string(models.ToolWebSearch), Args: map[string]any{"query": "EMT outdoors exceptions"}},
			{Name: string(models.ToolGetCode), Args: map[string]any{"ruleId": "12-618"}},
			{Name: string(models.ToolSemanticSearch), Args: map[string]any{"semanticQuery": "EMT outdoors"}},
		}},
		final(emtAnswer),
	}}
	progress := &progressRecorder{}

	svc := newTestService(newFakeStore(), model, DecodeWithWebSearcher(web))
	result, err := svc.Ask(context.Background(), AskRequest{
		Query:    "Is EMT conduit permitted outdoors?",
		Progress: progress,
	})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if result.Outcome != OutcomeAnswered {
		t.Fatalf("Outcome = %s, want %s", result.Outcome, OutcomeAnswered)
	}

	// Retrieval later in the same turn does not unlock a web search issued before it
	if web.calls != 0 {
		t.Errorf("web searcher called %d times, want 0", web.calls)
	}
	if _, ok := model.session.toolResponse(1, 0)["error"]; !ok {
		t.Errorf("webSearch payload = %v, want error", model.session.toolResponse(1, 0))
	}

	wantOrder := []models.ToolName{models.ToolWebSearch, models.ToolGetCode, models.ToolSemanticSearch}
	sent := model.session.received[1]
	if len(sent) != len(wantOrder) {
		t.Fatalf("sent %d tool responses, want %d", len(sent), len(wantOrder))
	}
	for i, want := range wantOrder {
		if sent[i].ToolResponse == nil || sent[i].ToolResponse.Name != want {
			t.Errorf("response %d = %+v, want %s", i, sent[i].ToolResponse, want)
		}
	}

	events := progress.events[1:]
	if len(events) != len(wantOrder) {
		t.Fatalf("tool progress events = %v, want %d", progress.updates(), len(wantOrder))
	}
	for i, want := range wantOrder {
		if events[i].Tool != want || events[i].Step != 1 {
			t.Errorf("event %d = %+v, want %s at step 1", i, events[i], want)
		}
	}
	wantUpdates := []string{"Web search skipped", "Looking up code rule 12-618", "Performing semantic lookup"}
	for i, want := range wantUpdates {
		if events[i].Update != want {
			t.Errorf("event %d update = %q, want %q", i, events[i].Update, want)
		}
	}
}

func TestAskIgnoresToolCallsOnFinalStep(t *testing.T) {
	store := newFakeStore()
	turns := make([]ModelTurn, 0, MaxReasoningSteps)
	for i := 1; i < MaxReasoningSteps; i++ {
		turns = append(turns, call(models.ToolKeywordSearch, "text", "tubing"))
	}
	turns = append(turns, call(models.ToolGetCode, "ruleId", "12-618"))
	model := &scriptedModel{turns: turns}
	progress := &progressRecorder{}

	svc := newTestService(store, model)
	result, err := svc.Ask(context.Background(), AskRequest{Query: "Tell me about tubing", Progress: progress})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if result.Outcome != OutcomeNoConfirmedAnswer {
		t.Errorf("Outcome = %s, want %s", result.Outcome, OutcomeNoConfirmedAnswer)
	}
	if len(store.lookups) != 0 {
		t.Errorf("getCode ran on the final step: %v", store.lookups)
	}
	for _, e := range progress.events {
		if e.Step == MaxReasoningSteps {
			t.Errorf("progress reported on the final step: %+v", e)
		}
	}
	last := result.Steps[len(result.Steps)-1]
	if len(last.ToolCalls) != 1 || last.ToolCalls[0].Error == "" {
		t.Errorf("final step tool calls = %+v, want one unexecuted call", last.ToolCalls)
	}
}

func TestAskWebSearchOmittedWhenDisabled(t *testing.T) {
	model := &scriptedModel{turns: []ModelTurn{final(`{"rules":[],"conclusion":"x"}`)}}
	svc := newTestService(newFakeStore(), model)
	if _, err := svc.Ask(context.Background(), AskRequest{Query: "anything at all"}); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	for _, spec := range model.tools {
		if spec.Name == models.ToolWebSearch {
			t.Error("webSearch declared without a web searcher")
		}
	}
	if !strings.Contains(model.prompt, models.NotFoundConclusion) {
		t.Error("system prompt is missing the not-found sentinel")
	}
}

func TestAskWebSearchFailureIsNonFatal(t *testing.T) {
	web := &fakeWeb{err: errors.New("quota exceeded")}
	model := &scriptedModel{turns: []ModelTurn{
		call(models.ToolGetCode, "ruleId", "12-618"),
		call(models.ToolWebSearch, "query", "12-618 exceptions"),
		final(emtAnswer),
	}}

	svc := newTestService(newFakeStore(), model, DecodeWithWebSearcher(web))
	result, err := svc.Ask(context.Background(), AskRequest{Query: "Is EMT conduit permitted outdoors?"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	payload := model.session.toolResponse(2, 0)
	if results, _ := payload["results"].([]any); len(results) != 0 {
		t.Errorf("results = %v, want empty", payload["results"])
	}
	if payload["unavailable"] != true {
		t.Errorf("payload = %v, want unavailable flag", payload)
	}
	if result.Outcome != OutcomeAnswered {
		t.Errorf("Outcome = %s, want %s", result.Outcome, OutcomeAnswered)
	}
}

func TestAskCorpusFailureIsAbsorbed(t *testing.T) {
	store := newFakeStore()
	store.keywordErr = errors.New("connection reset")
	model := &scriptedModel{turns: []ModelTurn{
		call(models.ToolKeywordSearch, "text", "EMT outdoors"),
		call(models.ToolGetCode, "ruleId", "12-618"),
		final(emtAnswer),
	}}

	svc := newTestService(store, model)
	result, err := svc.Ask(context.Background(), AskRequest{Query: "Is EMT conduit permitted outdoors?"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if _, ok := model.session.toolResponse(1, 0)["error"]; !ok {
		t.Error("keyword failure was not reported to the model")
	}
	if result.Outcome != OutcomeAnswered {
		t.Errorf("Outcome = %s, want %s", result.Outcome, OutcomeAnswered)
	}
}

func TestAskEmbeddingOutageFailsRequest(t *testing.T) {
	model := &scriptedModel{turns: []ModelTurn{
		call(models.ToolSemanticSearch, "semanticQuery", "EMT outdoors"),
	}}
	svc := NewDecodeService(
		DecodeWithRuleStore(newFakeStore()),
		DecodeWithEmbedder(&fakeEmbedder{err: errors.New("dial tcp: connection refused")}),
		DecodeWithChatModel(model),
	)

	_, err := svc.Ask(context.Background(), AskRequest{Query: "Is EMT conduit permitted outdoors?"})
	if !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Fatalf("err = %v, want ErrEmbeddingUnavailable", err)
	}
}

func TestAskModelFailure(t *testing.T) {
	model := &scriptedModel{}
	svc := newTestService(newFakeStore(), model)
	_, err := svc.Ask(context.Background(), AskRequest{Query: "Is EMT conduit permitted outdoors?"})
	if !errors.Is(err, ErrModelFailed) {
		t.Fatalf("err = %v, want ErrModelFailed", err)
	}
}

func TestAskRejectsInvalidQuery(t *testing.T) {
	model := &scriptedModel{}
	svc := newTestService(newFakeStore(), model)

	for _, query := range []string{"", " a ", strings.Repeat("x", MaxQueryLength+1)} {
		_, err := svc.Ask(context.Background(), AskRequest{Query: query})
		if !errors.Is(err, ErrInvalidQuery) {
			t.Errorf("Ask(%d chars) err = %v, want ErrInvalidQuery", len(query), err)
		}
	}
	if model.session != nil {
		t.Error("model was started for an invalid query")
	}
}

func TestAskRequiresDependencies(t *testing.T) {
	svc := NewDecodeService()
	_, err := svc.Ask(context.Background(), AskRequest{Query: "Is EMT ok?"})
	if !errors.Is(err, ErrServiceNotConfigured) {
		t.Errorf("err = %v, want ErrServiceNotConfigured", err)
	}
}

func TestValidateQueryBounds(t *testing.T) {
	if _, err := ValidateQuery("ok"); err != nil {
		t.Errorf("two-character query rejected: %v", err)
	}
	if _, err := ValidateQuery(strings.Repeat("é", MaxQueryLength)); err != nil {
		t.Errorf("300-rune query rejected: %v", err)
	}
}
