package importer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/davidstormer/fdp-app-sub000/internal/domain"
	"github.com/davidstormer/fdp-app-sub000/internal/keystore"
	"github.com/davidstormer/fdp-app-sub000/internal/repository"

	"github.com/google/uuid"
)

func testRegistry(t *testing.T) *domain.Registry {
	t.Helper()
	registry, err := domain.NewRegistry([]domain.TypeDef{
		{
			Name: "Person",
			Fields: []domain.Field{
				{Name: "name", Type: domain.ValueTypeString, Required: true},
				{Name: "email", Type: domain.ValueTypeString, NaturalKey: true},
				{Name: "active", Type: domain.ValueTypeBoolean},
				{Name: "age", Type: domain.ValueTypeInteger},
			},
		},
		{
			Name: "Organization",
			Fields: []domain.Field{
				{Name: "name", Type: domain.ValueTypeString, Required: true, NaturalKey: true},
			},
		},
		{
			Name: "Membership",
			Fields: []domain.Field{
				{Name: "person", Type: domain.ValueTypeString, Required: true, Relation: "Person"},
				{Name: "organization", Type: domain.ValueTypeString, Required: true, Relation: "Organization"},
				{Name: "role", Type: domain.ValueTypeString},
			},
		},
		{
			Name: "Group",
			Fields: []domain.Field{
				{Name: "name", Type: domain.ValueTypeString, Required: true, NaturalKey: true},
				{Name: "parent", Type: domain.ValueTypeString, Relation: "Group"},
			},
		},
	})
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	return registry
}

type testHarness struct {
	service     *Service
	records     *stubRecordRepo
	submissions *stubSubmissionRepo
	external    *stubExternalRepo
}

func newTestHarness(t *testing.T, opts Options) *testHarness {
	t.Helper()
	registry := testRegistry(t)
	records := newStubRecordRepo()
	submissions := newStubSubmissionRepo()
	external := newStubExternalRepo()
	keys := keystore.New(external)
	natural := repository.NewNaturalKeyService(records, registry)
	return &testHarness{
		service:     NewService(registry, records, submissions, keys, natural, opts),
		records:     records,
		submissions: submissions,
		external:    external,
	}
}

func csvRequest(name, data string, mode domain.Mode) Request {
	return Request{FileName: name, Mode: mode, Payload: []byte(data)}
}

func outcomeForRow(t *testing.T, report Report, row int) domain.RowOutcome {
	t.Helper()
	for _, outcome := range report.Outcomes {
		if outcome.RowNumber == row {
			return outcome
		}
	}
	t.Fatalf("no outcome for row %d in %+v", row, report.Outcomes)
	return domain.RowOutcome{}
}

func TestCommitCreatesRecordsAcrossTypes(t *testing.T) {
	h := newTestHarness(t, Options{})

	data := "Organization.name,Person.name,Person.email,Person.external_id,Membership.person.externalid,Membership.organization.natural,Membership.role\n" +
		"Acme,,,,,,\n" +
		",Ada,ada@example.com,P-100,,,\n" +
		",,,,P-100,Acme,admin\n"

	report, err := h.service.Commit(context.Background(), csvRequest("people.csv", data, domain.ModeCreate))
	if err != nil {
		t.Fatalf("commit returned error: %v", err)
	}

	if report.Status != domain.StatusCommitted {
		t.Fatalf("expected status committed, got %s", report.Status)
	}
	if len(report.Outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(report.Outcomes))
	}
	for row := 1; row <= 3; row++ {
		outcome := outcomeForRow(t, report, row)
		if outcome.Outcome != domain.OutcomeCreated {
			t.Fatalf("row %d: expected created, got %s (%v)", row, outcome.Outcome, outcome.Errors)
		}
	}

	if got := h.records.countByType("Membership"); got != 1 {
		t.Fatalf("expected 1 Membership, got %d", got)
	}
	membership := h.records.firstOfType(t, "Membership")
	person := h.records.firstOfType(t, "Person")
	org := h.records.firstOfType(t, "Organization")
	if membership.Fields["person"] != person.ID.String() {
		t.Fatalf("membership person = %v, want %s", membership.Fields["person"], person.ID)
	}
	if membership.Fields["organization"] != org.ID.String() {
		t.Fatalf("membership organization = %v, want %s", membership.Fields["organization"], org.ID)
	}

	if counts := report.Counts["Person"]; counts.Created != 1 {
		t.Fatalf("unexpected Person counts: %+v", counts)
	}
}

func TestCommitResolvesImplicitRowTokens(t *testing.T) {
	h := newTestHarness(t, Options{})

	data := "Person.name,Person.email,Organization.name,Membership.person.pk,Membership.organization.pk,Membership.role\n" +
		"Ada,ada@example.com,,,,\n" +
		",,Acme,,,\n" +
		",,,@1,@2,admin\n"

	report, err := h.service.Commit(context.Background(), csvRequest("people.csv", data, domain.ModeCreate))
	if err != nil {
		t.Fatalf("commit returned error: %v", err)
	}
	if report.Status != domain.StatusCommitted {
		t.Fatalf("expected committed, got %s: %+v", report.Status, report.Outcomes)
	}

	membership := h.records.firstOfType(t, "Membership")
	person := h.records.firstOfType(t, "Person")
	if membership.Fields["person"] != person.ID.String() {
		t.Fatalf("implicit token resolved to %v, want %s", membership.Fields["person"], person.ID)
	}
}

func TestSameTypeForwardTokenFails(t *testing.T) {
	h := newTestHarness(t, Options{Workers: 1})

	// Both groups land in the same pass, so @1 may not be observed by row 2.
	data := "Group.name,Group.parent.pk\n" +
		"root,\n" +
		"child,@1\n"

	report, err := h.service.Commit(context.Background(), csvRequest("groups.csv", data, domain.ModeCreate))
	if err != nil {
		t.Fatalf("commit returned error: %v", err)
	}

	if report.Status != domain.StatusPartiallyCommitted {
		t.Fatalf("expected partially committed, got %s", report.Status)
	}
	child := outcomeForRow(t, report, 2)
	if child.Outcome != domain.OutcomeErrored {
		t.Fatalf("expected forward token row to error, got %s", child.Outcome)
	}
	if len(child.Errors) == 0 || !strings.Contains(child.Errors[0], "already-processed row") {
		t.Fatalf("unexpected errors: %v", child.Errors)
	}
}

func TestCommitIsIdempotentByExternalID(t *testing.T) {
	h := newTestHarness(t, Options{})

	data := "Person.name,Person.email,Person.external_id\n" +
		"Ada,ada@example.com,P-100\n"

	first, err := h.service.Commit(context.Background(), csvRequest("people.csv", data, domain.ModeCreate))
	if err != nil {
		t.Fatalf("first commit returned error: %v", err)
	}
	if outcomeForRow(t, first, 1).Outcome != domain.OutcomeCreated {
		t.Fatalf("expected first import to create")
	}

	second, err := h.service.Commit(context.Background(), csvRequest("people.csv", data, domain.ModeCreate))
	if err != nil {
		t.Fatalf("second commit returned error: %v", err)
	}
	if outcomeForRow(t, second, 1).Outcome != domain.OutcomeUpdated {
		t.Fatalf("expected second import to update, got %s", outcomeForRow(t, second, 1).Outcome)
	}

	if got := h.records.countByType("Person"); got != 1 {
		t.Fatalf("expected re-import to leave 1 Person, got %d", got)
	}
}

func TestUpdateByExternalIDAcrossSubmissions(t *testing.T) {
	h := newTestHarness(t, Options{})

	first := "Person.name,Person.external_id\n" +
		"Jane Doe,P-100\n" +
		"John Roe,P-101\n"
	report, err := h.service.Commit(context.Background(), csvRequest("people.csv", first, domain.ModeCreate))
	if err != nil {
		t.Fatalf("first commit returned error: %v", err)
	}
	if report.Counts["Person"].Created != 2 {
		t.Fatalf("expected 2 creations, got %+v", report.Counts["Person"])
	}

	// Column order differs from the first file; headers are positional only
	// through the mapping, not by convention.
	second := "Person.external_id,Person.name\n" +
		"P-100,Jane R. Doe\n"
	report, err = h.service.Commit(context.Background(), csvRequest("people.csv", second, domain.ModeUpdate))
	if err != nil {
		t.Fatalf("second commit returned error: %v", err)
	}
	counts := report.Counts["Person"]
	if counts.Updated != 1 || counts.Created != 0 {
		t.Fatalf("expected one update and no creations, got %+v", counts)
	}

	jane, err := h.records.FindByField(context.Background(), "Person", "name", "Jane R. Doe")
	if err != nil {
		t.Fatalf("updated record not found: %v", err)
	}
	if _, err := h.records.FindByField(context.Background(), "Person", "name", "John Roe"); err != nil {
		t.Fatalf("unrelated record touched: %v", err)
	}

	id, found, err := h.external.Lookup(context.Background(), "Person", "P-100")
	if err != nil || !found || id != jane.ID {
		t.Fatalf("mapping should still address the updated record: %v %v %v", id, found, err)
	}
}

func TestPartialUpdateKeepsAbsentFields(t *testing.T) {
	h := newTestHarness(t, Options{})

	full := "Person.name,Person.email,Person.external_id,Person.active\n" +
		"Ada,ada@example.com,P-100,true\n"
	if _, err := h.service.Commit(context.Background(), csvRequest("people.csv", full, domain.ModeCreate)); err != nil {
		t.Fatalf("seed commit returned error: %v", err)
	}

	partial := "Person.name,Person.external_id\n" +
		"Ada Lovelace,P-100\n"
	report, err := h.service.Commit(context.Background(), csvRequest("people.csv", partial, domain.ModeUpdate))
	if err != nil {
		t.Fatalf("update commit returned error: %v", err)
	}
	if outcomeForRow(t, report, 1).Outcome != domain.OutcomeUpdated {
		t.Fatalf("expected update outcome, got %s", outcomeForRow(t, report, 1).Outcome)
	}

	person := h.records.firstOfType(t, "Person")
	if person.Fields["name"] != "Ada Lovelace" {
		t.Fatalf("name not updated: %v", person.Fields["name"])
	}
	if person.Fields["email"] != "ada@example.com" {
		t.Fatalf("absent column should keep stored value, got %v", person.Fields["email"])
	}
	if person.Fields["active"] != true {
		t.Fatalf("absent column should keep stored value, got %v", person.Fields["active"])
	}
}

func TestRowFailureIsIsolated(t *testing.T) {
	h := newTestHarness(t, Options{})

	data := "Person.name,Person.email\n" +
		"Ada,ada@example.com\n" +
		",missing-name@example.com\n" +
		"Grace,grace@example.com\n"

	report, err := h.service.Commit(context.Background(), csvRequest("people.csv", data, domain.ModeCreate))
	if err != nil {
		t.Fatalf("commit returned error: %v", err)
	}

	if report.Status != domain.StatusPartiallyCommitted {
		t.Fatalf("expected partially committed, got %s", report.Status)
	}
	if outcomeForRow(t, report, 2).Outcome != domain.OutcomeErrored {
		t.Fatalf("expected row 2 to error")
	}
	if got := h.records.countByType("Person"); got != 2 {
		t.Fatalf("expected 2 persons committed, got %d", got)
	}
}

func TestRowWithMultipleProblemsReportsAll(t *testing.T) {
	h := newTestHarness(t, Options{})

	data := "Person.name,Person.active,Person.age\n" +
		"Ada,notabool,notanint\n"

	report, err := h.service.Commit(context.Background(), csvRequest("people.csv", data, domain.ModeCreate))
	if err != nil {
		t.Fatalf("commit returned error: %v", err)
	}

	outcome := outcomeForRow(t, report, 1)
	if outcome.Outcome != domain.OutcomeErrored {
		t.Fatalf("expected errored outcome, got %s", outcome.Outcome)
	}
	if len(outcome.Errors) != 2 {
		t.Fatalf("expected both cell errors reported, got %v", outcome.Errors)
	}
	if got := h.records.countByType("Person"); got != 0 {
		t.Fatalf("errored row must not commit, got %d persons", got)
	}
}

func TestUnknownHeaderAbortsSubmission(t *testing.T) {
	h := newTestHarness(t, Options{})

	data := "Person.name,Person.shoe_size\nAda,42\n"

	_, err := h.service.Commit(context.Background(), csvRequest("people.csv", data, domain.ModeCreate))
	if !errors.Is(err, ErrPlanning) {
		t.Fatalf("expected planning error, got %v", err)
	}

	sub := h.submissions.single(t)
	if sub.Status != domain.StatusPlanningFailed {
		t.Fatalf("expected planning_failed, got %s", sub.Status)
	}
	if got := h.records.countByType("Person"); got != 0 {
		t.Fatalf("planning failure must not write records, got %d", got)
	}
}

func TestDryRunWritesNoRecords(t *testing.T) {
	h := newTestHarness(t, Options{})

	data := "Organization.name,Membership.person.externalid,Membership.organization.natural,Membership.role\n" +
		"Acme,,,\n" +
		",P-900,Acme,admin\n"

	report, err := h.service.Validate(context.Background(), csvRequest("people.csv", data, domain.ModeCreate))
	if err != nil {
		t.Fatalf("validate returned error: %v", err)
	}

	if !report.DryRun {
		t.Fatalf("expected dry-run report")
	}
	if report.Status != domain.StatusValidating {
		t.Fatalf("expected validating status, got %s", report.Status)
	}
	if outcomeForRow(t, report, 1).Outcome != domain.OutcomeCreated {
		t.Fatalf("dry run should report would-be creations")
	}
	if outcomeForRow(t, report, 2).Outcome != domain.OutcomeCreated {
		t.Fatalf("dry run membership row: %+v", outcomeForRow(t, report, 2))
	}

	if h.records.createCalls() != 0 {
		t.Fatalf("dry run must not create records, got %d creates", h.records.createCalls())
	}
	if h.external.size() != 0 {
		t.Fatalf("dry run must not register external ids, got %d", h.external.size())
	}
	// The ledger itself is durable even for dry runs.
	if len(h.submissions.outcomes[report.SubmissionID]) == 0 {
		t.Fatalf("dry run should persist row outcomes")
	}
}

func TestDryRunMatchesCommitOutcomes(t *testing.T) {
	data := "Person.name,Person.email,Person.external_id\n" +
		"Ada,ada@example.com,P-100\n" +
		",bad@example.com,P-101\n"

	dry := newTestHarness(t, Options{})
	dryReport, err := dry.service.Validate(context.Background(), csvRequest("people.csv", data, domain.ModeCreate))
	if err != nil {
		t.Fatalf("validate returned error: %v", err)
	}

	wet := newTestHarness(t, Options{})
	wetReport, err := wet.service.Commit(context.Background(), csvRequest("people.csv", data, domain.ModeCreate))
	if err != nil {
		t.Fatalf("commit returned error: %v", err)
	}

	for row := 1; row <= 2; row++ {
		dryOutcome := outcomeForRow(t, dryReport, row)
		wetOutcome := outcomeForRow(t, wetReport, row)
		if dryOutcome.Outcome != wetOutcome.Outcome {
			t.Fatalf("row %d: dry run %s, commit %s", row, dryOutcome.Outcome, wetOutcome.Outcome)
		}
	}
}

func TestStubReferentGetsSyntheticOutcome(t *testing.T) {
	h := newTestHarness(t, Options{})

	data := "Organization.name,Membership.person.externalid,Membership.organization.natural,Membership.role\n" +
		"Acme,,,\n" +
		",P-900,Acme,admin\n"

	report, err := h.service.Commit(context.Background(), csvRequest("people.csv", data, domain.ModeCreate))
	if err != nil {
		t.Fatalf("commit returned error: %v", err)
	}
	if report.Status != domain.StatusCommitted {
		t.Fatalf("expected committed, got %s: %+v", report.Status, report.Outcomes)
	}

	var synthetic []domain.RowOutcome
	for _, outcome := range report.Outcomes {
		if outcome.Synthetic() {
			synthetic = append(synthetic, outcome)
		}
	}
	if len(synthetic) != 1 {
		t.Fatalf("expected 1 synthetic outcome, got %d", len(synthetic))
	}
	if synthetic[0].RecordType != "Person" || synthetic[0].Outcome != domain.OutcomeCreated {
		t.Fatalf("unexpected synthetic outcome: %+v", synthetic[0])
	}

	if got := h.records.countByType("Person"); got != 1 {
		t.Fatalf("expected auto-created Person stub, got %d", got)
	}
	id, found, err := h.external.Lookup(context.Background(), "Person", "P-900")
	if err != nil || !found {
		t.Fatalf("stub external id not registered: %v", err)
	}
	if *synthetic[0].RecordID != id {
		t.Fatalf("synthetic outcome id %s, registered id %s", synthetic[0].RecordID, id)
	}
}

func TestUpdateModeCreatesNothing(t *testing.T) {
	h := newTestHarness(t, Options{})

	data := "Person.name,Person.email,Membership.person.externalid,Membership.organization.natural,Membership.role\n" +
		"Ada,ada@example.com,,,\n" +
		",,P-900,Acme,admin\n"

	report, err := h.service.Commit(context.Background(), csvRequest("people.csv", data, domain.ModeUpdate))
	if err != nil {
		t.Fatalf("commit returned error: %v", err)
	}

	if report.Status != domain.StatusPartiallyCommitted {
		t.Fatalf("expected partially committed when every row errors, got %s", report.Status)
	}
	if outcomeForRow(t, report, 1).Outcome != domain.OutcomeErrored {
		t.Fatalf("update mode must reject unaddressed rows")
	}
	if outcomeForRow(t, report, 2).Outcome != domain.OutcomeErrored {
		t.Fatalf("update mode must not auto-create referents")
	}
	if h.records.createCalls() != 0 {
		t.Fatalf("update mode created %d records", h.records.createCalls())
	}
}

func TestCancelledContextStopsBetweenRows(t *testing.T) {
	h := newTestHarness(t, Options{})

	data := "Person.name,Person.email\nAda,ada@example.com\n"
	req := csvRequest("people.csv", data, domain.ModeCreate)

	sub, err := h.service.Begin(context.Background(), req)
	if err != nil {
		t.Fatalf("begin returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := h.service.Process(ctx, sub, req)
	if err != nil {
		t.Fatalf("process returned error: %v", err)
	}
	if report.Status != domain.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", report.Status)
	}
	if h.records.createCalls() != 0 {
		t.Fatalf("cancelled run created %d records", h.records.createCalls())
	}
}

func TestCancelMidCommitPersistsLedgerAndStatus(t *testing.T) {
	registry := testRegistry(t)
	records := newStubRecordRepo()
	submissions := newStubSubmissionRepo()
	external := newStubExternalRepo()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Repositories refuse cancelled contexts the way the pgx ones do; the
	// first committed row cancels the run.
	strictRecords := &ctxAwareRecordRepo{stubRecordRepo: records, onCreate: cancel}
	strictSubs := &ctxAwareSubmissionRepo{stubSubmissionRepo: submissions}

	keys := keystore.New(external)
	natural := repository.NewNaturalKeyService(strictRecords, registry)
	service := NewService(registry, strictRecords, strictSubs, keys, natural, Options{Workers: 1})

	data := "Person.name,Person.email\n" +
		"Ada,ada@example.com\n" +
		"Grace,grace@example.com\n"
	req := csvRequest("people.csv", data, domain.ModeCreate)

	sub, err := service.Begin(context.Background(), req)
	if err != nil {
		t.Fatalf("begin returned error: %v", err)
	}

	report, err := service.Process(ctx, sub, req)
	if err != nil {
		t.Fatalf("process returned error: %v", err)
	}
	if report.Status != domain.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", report.Status)
	}
	if records.createCalls() != 1 {
		t.Fatalf("expected only the in-flight row to commit, got %d creates", records.createCalls())
	}

	persisted, err := submissions.Get(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("get submission: %v", err)
	}
	if persisted.Status != domain.StatusCancelled {
		t.Fatalf("durable status %s, want %s", persisted.Status, domain.StatusCancelled)
	}

	outcomes := submissions.outcomes[sub.ID]
	if len(outcomes) != 1 {
		t.Fatalf("expected the committed row's outcome persisted, got %d", len(outcomes))
	}
	if outcomes[0].RowNumber != 1 || outcomes[0].Outcome != domain.OutcomeCreated {
		t.Fatalf("unexpected persisted outcome: %+v", outcomes[0])
	}
}

func TestLostKeyRegistrationRemovesStubReferent(t *testing.T) {
	registry := testRegistry(t)
	records := newStubRecordRepo()
	submissions := newStubSubmissionRepo()
	external := &conflictingExternalRepo{stubExternalRepo: newStubExternalRepo(), conflictKey: "P-900"}

	keys := keystore.New(external)
	natural := repository.NewNaturalKeyService(records, registry)
	service := NewService(registry, records, submissions, keys, natural, Options{})

	data := "Organization.name,Membership.person.externalid,Membership.organization.natural,Membership.role\n" +
		"Acme,,,\n" +
		",P-900,Acme,admin\n"

	report, err := service.Commit(context.Background(), csvRequest("people.csv", data, domain.ModeCreate))
	if err != nil {
		t.Fatalf("commit returned error: %v", err)
	}

	if outcomeForRow(t, report, 2).Outcome != domain.OutcomeErrored {
		t.Fatalf("expected membership row to error, got %s", outcomeForRow(t, report, 2).Outcome)
	}
	if got := records.countByType("Person"); got != 0 {
		t.Fatalf("lost registration must not leave a stub Person, got %d", got)
	}
	if len(records.deleted) != 1 || records.deleted[0].recordType != "Person" {
		t.Fatalf("expected the stub Person removed, got %+v", records.deleted)
	}
}

func TestLostKeyRegistrationRemovesCreatedRecord(t *testing.T) {
	registry := testRegistry(t)
	records := newStubRecordRepo()
	submissions := newStubSubmissionRepo()
	external := &conflictingExternalRepo{stubExternalRepo: newStubExternalRepo(), conflictKey: "P-100"}

	keys := keystore.New(external)
	natural := repository.NewNaturalKeyService(records, registry)
	service := NewService(registry, records, submissions, keys, natural, Options{})

	data := "Person.name,Person.email,Person.external_id\n" +
		"Ada,ada@example.com,P-100\n"

	report, err := service.Commit(context.Background(), csvRequest("people.csv", data, domain.ModeCreate))
	if err != nil {
		t.Fatalf("commit returned error: %v", err)
	}

	if outcomeForRow(t, report, 1).Outcome != domain.OutcomeErrored {
		t.Fatalf("expected row to error, got %s", outcomeForRow(t, report, 1).Outcome)
	}
	if got := records.countByType("Person"); got != 0 {
		t.Fatalf("lost registration must not leave an unmapped Person, got %d", got)
	}
	if len(records.deleted) != 1 || records.deleted[0].recordType != "Person" {
		t.Fatalf("expected the created Person removed, got %+v", records.deleted)
	}
}

func TestReverseDeletesCreatedRecordsInReverseOrder(t *testing.T) {
	h := newTestHarness(t, Options{Workers: 1})

	data := "Organization.name,Person.name,Person.email,Membership.person.pk,Membership.organization.pk,Membership.role\n" +
		"Acme,,,,,\n" +
		",Ada,ada@example.com,,,\n" +
		",,,@2,@1,admin\n"

	report, err := h.service.Commit(context.Background(), csvRequest("people.csv", data, domain.ModeCreate))
	if err != nil {
		t.Fatalf("commit returned error: %v", err)
	}
	if report.Status != domain.StatusCommitted {
		t.Fatalf("expected committed, got %s: %+v", report.Status, report.Outcomes)
	}

	result, err := h.service.Reverse(context.Background(), report.SubmissionID)
	if err != nil {
		t.Fatalf("reverse returned error: %v", err)
	}
	if result.Deleted != 3 {
		t.Fatalf("expected 3 deletions, got %d", result.Deleted)
	}

	// The membership references the other two, so it must go first.
	if len(h.records.deleted) != 3 {
		t.Fatalf("expected 3 deletes, got %d", len(h.records.deleted))
	}
	if h.records.deleted[0].recordType != "Membership" {
		t.Fatalf("expected Membership deleted first, got %s", h.records.deleted[0].recordType)
	}

	sub, err := h.submissions.Get(context.Background(), report.SubmissionID)
	if err != nil {
		t.Fatalf("get submission: %v", err)
	}
	if sub.Status != domain.StatusReversed {
		t.Fatalf("expected reversed status, got %s", sub.Status)
	}
	if h.external.size() != 0 {
		t.Fatalf("reversal must free external keys, %d left", h.external.size())
	}
}

func TestReverseRefusedWhenSubmissionUpdated(t *testing.T) {
	h := newTestHarness(t, Options{})

	data := "Person.name,Person.email,Person.external_id\nAda,ada@example.com,P-100\n"
	if _, err := h.service.Commit(context.Background(), csvRequest("people.csv", data, domain.ModeCreate)); err != nil {
		t.Fatalf("seed commit: %v", err)
	}

	second, err := h.service.Commit(context.Background(), csvRequest("people.csv", data, domain.ModeCreate))
	if err != nil {
		t.Fatalf("second commit: %v", err)
	}

	_, err = h.service.Reverse(context.Background(), second.SubmissionID)
	if !errors.Is(err, ErrReversalRefused) {
		t.Fatalf("expected reversal refusal, got %v", err)
	}
	if got := h.records.countByType("Person"); got != 1 {
		t.Fatalf("refused reversal must have no side effects, got %d persons", got)
	}
}

func TestReverseSkipUpdatesPolicy(t *testing.T) {
	h := newTestHarness(t, Options{ReversalPolicy: ReversalSkipUpdates})

	seed := "Person.name,Person.email,Person.external_id\nAda,ada@example.com,P-100\n"
	if _, err := h.service.Commit(context.Background(), csvRequest("people.csv", seed, domain.ModeCreate)); err != nil {
		t.Fatalf("seed commit: %v", err)
	}

	mixed := "Person.name,Person.email,Person.external_id\n" +
		"Ada Lovelace,ada@example.com,P-100\n" +
		"Grace,grace@example.com,P-200\n"
	report, err := h.service.Commit(context.Background(), csvRequest("people.csv", mixed, domain.ModeCreate))
	if err != nil {
		t.Fatalf("mixed commit: %v", err)
	}

	result, err := h.service.Reverse(context.Background(), report.SubmissionID)
	if err != nil {
		t.Fatalf("reverse returned error: %v", err)
	}
	if result.Deleted != 1 || result.SkippedUpdates != 1 {
		t.Fatalf("unexpected reversal result: %+v", result)
	}

	// The updated record stays, with the updated value.
	person := h.records.firstOfType(t, "Person")
	if person.Fields["name"] != "Ada Lovelace" {
		t.Fatalf("updated record must survive reversal, got %v", person.Fields["name"])
	}
	if got := h.records.countByType("Person"); got != 1 {
		t.Fatalf("expected only the updated person to remain, got %d", got)
	}
}

func TestReverseRejectsDryRun(t *testing.T) {
	h := newTestHarness(t, Options{})

	data := "Person.name,Person.email\nAda,ada@example.com\n"
	report, err := h.service.Validate(context.Background(), csvRequest("people.csv", data, domain.ModeCreate))
	if err != nil {
		t.Fatalf("validate returned error: %v", err)
	}

	if _, err := h.service.Reverse(context.Background(), report.SubmissionID); err == nil {
		t.Fatalf("expected dry-run reversal to fail")
	}
}

// --- stubs ---

type deletedRecord struct {
	recordType string
	id         uuid.UUID
}

type stubRecordRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]domain.Record
	order   []uuid.UUID
	creates int
	deleted []deletedRecord
}

func newStubRecordRepo() *stubRecordRepo {
	return &stubRecordRepo{records: make(map[uuid.UUID]domain.Record)}
}

func (s *stubRecordRepo) Create(ctx context.Context, record domain.Record) (domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++
	s.records[record.ID] = record
	s.order = append(s.order, record.ID)
	return record, nil
}

func (s *stubRecordRepo) Update(ctx context.Context, recordType string, id uuid.UUID, fields map[string]any) (domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok || record.Type != recordType {
		return domain.Record{}, repository.ErrNotFound
	}
	updated := record.WithFields(fields)
	s.records[id] = updated
	return updated, nil
}

func (s *stubRecordRepo) GetByID(ctx context.Context, recordType string, id uuid.UUID) (domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok || record.Type != recordType {
		return domain.Record{}, repository.ErrNotFound
	}
	return record, nil
}

func (s *stubRecordRepo) FindByField(ctx context.Context, recordType, field, value string) (domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		record := s.records[id]
		if record.Type != recordType {
			continue
		}
		if stored, ok := record.Fields[field].(string); ok && stored == value {
			return record, nil
		}
	}
	return domain.Record{}, repository.ErrNotFound
}

func (s *stubRecordRepo) Delete(ctx context.Context, recordType string, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok || record.Type != recordType {
		return repository.ErrNotFound
	}
	delete(s.records, id)
	s.deleted = append(s.deleted, deletedRecord{recordType: recordType, id: id})
	return nil
}

func (s *stubRecordRepo) CountByType(ctx context.Context, recordType string) (int64, error) {
	return int64(s.countByType(recordType)), nil
}

func (s *stubRecordRepo) countByType(recordType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, record := range s.records {
		if record.Type == recordType {
			count++
		}
	}
	return count
}

func (s *stubRecordRepo) createCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates
}

func (s *stubRecordRepo) firstOfType(t *testing.T, recordType string) domain.Record {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		record, ok := s.records[id]
		if ok && record.Type == recordType {
			return record
		}
	}
	t.Fatalf("no record of type %s", recordType)
	return domain.Record{}
}

type stubSubmissionRepo struct {
	mu       sync.Mutex
	subs     map[uuid.UUID]domain.Submission
	outcomes map[uuid.UUID][]domain.RowOutcome
}

func newStubSubmissionRepo() *stubSubmissionRepo {
	return &stubSubmissionRepo{
		subs:     make(map[uuid.UUID]domain.Submission),
		outcomes: make(map[uuid.UUID][]domain.RowOutcome),
	}
}

func (s *stubSubmissionRepo) Create(ctx context.Context, sub domain.Submission) (domain.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.ID] = sub
	return sub, nil
}

func (s *stubSubmissionRepo) Get(ctx context.Context, id uuid.UUID) (domain.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return domain.Submission{}, repository.ErrNotFound
	}
	return sub, nil
}

func (s *stubSubmissionRepo) Update(ctx context.Context, sub domain.Submission) (domain.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub.ID]; !ok {
		return domain.Submission{}, repository.ErrNotFound
	}
	s.subs[sub.ID] = sub
	return sub, nil
}

func (s *stubSubmissionRepo) List(ctx context.Context, limit, offset int) ([]domain.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := make([]domain.Submission, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	return subs, nil
}

func (s *stubSubmissionRepo) AddOutcome(ctx context.Context, outcome domain.RowOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[outcome.SubmissionID] = append(s.outcomes[outcome.SubmissionID], outcome)
	return nil
}

func (s *stubSubmissionRepo) ListOutcomes(ctx context.Context, submissionID uuid.UUID) ([]domain.RowOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.RowOutcome(nil), s.outcomes[submissionID]...), nil
}

func (s *stubSubmissionRepo) single(t *testing.T) domain.Submission {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subs) != 1 {
		t.Fatalf("expected exactly 1 submission, got %d", len(s.subs))
	}
	for _, sub := range s.subs {
		return sub
	}
	return domain.Submission{}
}

type stubExternalRepo struct {
	mu       sync.Mutex
	mappings map[string]domain.ExternalIDMapping
}

func newStubExternalRepo() *stubExternalRepo {
	return &stubExternalRepo{mappings: make(map[string]domain.ExternalIDMapping)}
}

func externalKey(recordType, key string) string {
	return recordType + "\x00" + key
}

func (s *stubExternalRepo) Lookup(ctx context.Context, recordType, key string) (uuid.UUID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mapping, ok := s.mappings[externalKey(recordType, key)]
	if !ok {
		return uuid.Nil, false, nil
	}
	return mapping.RecordID, true, nil
}

func (s *stubExternalRepo) Register(ctx context.Context, mapping domain.ExternalIDMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.mappings[externalKey(mapping.RecordType, mapping.Key)]; exists {
		return repository.ErrKeyConflict
	}
	s.mappings[externalKey(mapping.RecordType, mapping.Key)] = mapping
	return nil
}

func (s *stubExternalRepo) DeleteBySubmission(ctx context.Context, submissionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, mapping := range s.mappings {
		if mapping.SubmissionID == submissionID {
			delete(s.mappings, key)
		}
	}
	return nil
}

func (s *stubExternalRepo) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.mappings)
}

// ctxAwareRecordRepo fails every call on a cancelled context, matching how
// the pgx-backed repository behaves. onCreate fires after each successful
// create.
type ctxAwareRecordRepo struct {
	*stubRecordRepo
	onCreate func()
}

func (s *ctxAwareRecordRepo) Create(ctx context.Context, record domain.Record) (domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return domain.Record{}, err
	}
	created, err := s.stubRecordRepo.Create(ctx, record)
	if err == nil && s.onCreate != nil {
		s.onCreate()
	}
	return created, err
}

func (s *ctxAwareRecordRepo) Update(ctx context.Context, recordType string, id uuid.UUID, fields map[string]any) (domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return domain.Record{}, err
	}
	return s.stubRecordRepo.Update(ctx, recordType, id, fields)
}

func (s *ctxAwareRecordRepo) GetByID(ctx context.Context, recordType string, id uuid.UUID) (domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return domain.Record{}, err
	}
	return s.stubRecordRepo.GetByID(ctx, recordType, id)
}

func (s *ctxAwareRecordRepo) FindByField(ctx context.Context, recordType, field, value string) (domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return domain.Record{}, err
	}
	return s.stubRecordRepo.FindByField(ctx, recordType, field, value)
}

func (s *ctxAwareRecordRepo) Delete(ctx context.Context, recordType string, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.stubRecordRepo.Delete(ctx, recordType, id)
}

func (s *ctxAwareRecordRepo) CountByType(ctx context.Context, recordType string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.stubRecordRepo.CountByType(ctx, recordType)
}

type ctxAwareSubmissionRepo struct {
	*stubSubmissionRepo
}

func (s *ctxAwareSubmissionRepo) Create(ctx context.Context, sub domain.Submission) (domain.Submission, error) {
	if err := ctx.Err(); err != nil {
		return domain.Submission{}, err
	}
	return s.stubSubmissionRepo.Create(ctx, sub)
}

func (s *ctxAwareSubmissionRepo) Get(ctx context.Context, id uuid.UUID) (domain.Submission, error) {
	if err := ctx.Err(); err != nil {
		return domain.Submission{}, err
	}
	return s.stubSubmissionRepo.Get(ctx, id)
}

func (s *ctxAwareSubmissionRepo) Update(ctx context.Context, sub domain.Submission) (domain.Submission, error) {
	if err := ctx.Err(); err != nil {
		return domain.Submission{}, err
	}
	return s.stubSubmissionRepo.Update(ctx, sub)
}

func (s *ctxAwareSubmissionRepo) AddOutcome(ctx context.Context, outcome domain.RowOutcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.stubSubmissionRepo.AddOutcome(ctx, outcome)
}

// conflictingExternalRepo loses every registration of one key, as when a
// writer outside this process registers it first.
type conflictingExternalRepo struct {
	*stubExternalRepo
	conflictKey string
}

func (s *conflictingExternalRepo) Register(ctx context.Context, mapping domain.ExternalIDMapping) error {
	if mapping.Key == s.conflictKey {
		return repository.ErrKeyConflict
	}
	return s.stubExternalRepo.Register(ctx, mapping)
}
