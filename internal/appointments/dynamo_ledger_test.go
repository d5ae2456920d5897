package appointments

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/wolfman30/medspa-booking/internal/catalog"
	"github.com/wolfman30/medspa-booking/internal/payments"
	"github.com/wolfman30/medspa-booking/internal/scheduling"
	"github.com/wolfman30/medspa-booking/pkg/logging"
)

// stubDynamo is a tiny single-table fake that understands the handful of condition
// expressions the ledger uses.
type stubDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue

	transacts      int
	beforeTransact func(s *stubDynamo)
	transactErr    error
}

func newStubDynamo() *stubDynamo {
	return &stubDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func itemKey(item map[string]types.AttributeValue) string {
	return item["PK"].(*types.AttributeValueMemberS).Value + "|" + item["SK"].(*types.AttributeValueMemberS).Value
}

func (s *stubDynamo) put(item map[string]types.AttributeValue) {
	s.items[itemKey(item)] = item
}

func (s *stubDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: s.items[itemKey(in.Key)]}, nil
}

func (s *stubDynamo) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pk := in.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value
	prefix := in.ExpressionAttributeValues[":appt"].(*types.AttributeValueMemberS).Value
	var keys []string
	for k := range s.items {
		if strings.HasPrefix(k, pk+"|"+prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &dynamodb.QueryOutput{}
	for _, k := range keys {
		out.Items = append(out.Items, s.items[k])
	}
	return out, nil
}

func (s *stubDynamo) conditionHolds(put *types.Put) bool {
	existing, exists := s.items[itemKey(put.Item)]
	cond := aws.ToString(put.ConditionExpression)
	switch cond {
	case "":
		return true
	case "attribute_not_exists(PK)":
		return !exists
	case "attribute_not_exists(PK) OR version = :v":
		if !exists {
			return true
		}
		want := put.ExpressionAttributeValues[":v"].(*types.AttributeValueMemberN).Value
		got, ok := existing["version"].(*types.AttributeValueMemberN)
		return ok && got.Value == want
	default:
		panic("stubDynamo: unsupported condition " + cond)
	}
}

func (s *stubDynamo) TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	s.mu.Lock()
	s.transacts++
	hook := s.beforeTransact
	s.mu.Unlock()
	if hook != nil {
		hook(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transactErr != nil {
		return nil, s.transactErr
	}
	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	for i, ti := range in.TransactItems {
		if !s.conditionHolds(ti.Put) {
			reasons[i].Code = aws.String("ConditionalCheckFailed")
			failed = true
		} else {
			reasons[i].Code = aws.String("None")
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{Message: aws.String("cancelled"), CancellationReasons: reasons}
	}
	for _, ti := range in.TransactItems {
		s.put(ti.Put.Item)
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (s *stubDynamo) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemKey(in.Key)]
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("missing")}
	}
	from := in.ExpressionAttributeValues[":from"].(*types.AttributeValueMemberS).Value
	if item["status"].(*types.AttributeValueMemberS).Value != from {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("status changed")}
	}
	updated := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		updated[k] = v
	}
	updated["status"] = in.ExpressionAttributeValues[":to"]
	updated["updatedAt"] = in.ExpressionAttributeValues[":at"]
	if notes, ok := in.ExpressionAttributeValues[":notes"]; ok {
		updated["notes"] = notes
	}
	s.items[itemKey(in.Key)] = updated
	return &dynamodb.UpdateItemOutput{Attributes: updated}, nil
}

func (s *stubDynamo) bumpVersion(date string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := "DAY#" + date + "|META"
	version := 0
	if meta, ok := s.items[key]; ok {
		version, _ = strconv.Atoi(meta["version"].(*types.AttributeValueMemberN).Value)
	}
	s.put(map[string]types.AttributeValue{
		"PK":      &types.AttributeValueMemberS{Value: "DAY#" + date},
		"SK":      &types.AttributeValueMemberS{Value: "META"},
		"version": &types.AttributeValueMemberN{Value: strconv.Itoa(version + 1)},
	})
}

func newDynamoService(t *testing.T, stub *stubDynamo) (*Service, *DynamoLedger) {
	t.Helper()
	ledger := NewDynamoLedger(stub, "appointments", logging.Discard())
	svc := NewService(catalog.NewInMemoryCatalog(botox, filler, facial), ledger, newFixture(t).clock, WithLogger(logging.Discard()))
	return svc, ledger
}

func TestDynamoLedgerBookAndRead(t *testing.T) {
	stub := newStubDynamo()
	svc, ledger := newDynamoService(t, stub)
	ctx := context.Background()

	appt, err := svc.Book(ctx, request(scheduling.At(10, 0), paid("pi_1", 15000), "botox", "filler"))
	if err != nil {
		t.Fatalf("Book: %v", err)
	}

	got, err := ledger.Get(ctx, appt.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.DurationMinutes != 75 || got.Title != "Botox + 1 other" || got.Payment.ExternalID != "pi_1" {
		t.Fatalf("unexpected round trip %+v", got)
	}

	byPayment, err := ledger.FindByPayment(ctx, payments.MethodStripe, "pi_1")
	if err != nil || byPayment.ID != appt.ID {
		t.Fatalf("FindByPayment = %v, %v", byPayment.ID, err)
	}

	occ, err := ledger.ListActive(ctx, bookDate)
	if err != nil || len(occ) != 1 || occ[0].Interval().Minutes() != 75 {
		t.Fatalf("ListActive = %+v, %v", occ, err)
	}

	if _, err := svc.Book(ctx, request(scheduling.At(10, 30), paid("pi_2", 10000), "botox")); !errors.Is(err, ErrSlotNoLongerAvailable) {
		t.Fatalf("expected overlap conflict, got %v", err)
	}
}

func TestDynamoLedgerRetriesOnVersionConflict(t *testing.T) {
	stub := newStubDynamo()
	svc, _ := newDynamoService(t, stub)
	first := true
	stub.beforeTransact = func(s *stubDynamo) {
		if first {
			first = false
			s.bumpVersion(bookDate.String())
		}
	}

	if _, err := svc.Book(context.Background(), request(scheduling.At(10, 0), paid("pi_1", 10000), "botox")); err != nil {
		t.Fatalf("Book: %v", err)
	}
	if stub.transacts != 2 {
		t.Fatalf("expected one retry, got %d transactions", stub.transacts)
	}
}

func TestDynamoLedgerRetrySeesConcurrentBooking(t *testing.T) {
	stub := newStubDynamo()
	svc, _ := newDynamoService(t, stub)
	rival := samplePGAppointment()
	rival.ID = "rival"
	rival.Payment.ExternalID = "pi_rival"

	first := true
	stub.beforeTransact = func(s *stubDynamo) {
		if !first {
			return
		}
		first = false
		rec, _ := encodeAppointment(rival)
		item := map[string]types.AttributeValue{
			"PK":              &types.AttributeValueMemberS{Value: rec.PK},
			"SK":              &types.AttributeValueMemberS{Value: rec.SK},
			"id":              &types.AttributeValueMemberS{Value: rec.ID},
			"date":            &types.AttributeValueMemberS{Value: rec.Date},
			"startMinute":     &types.AttributeValueMemberN{Value: "600"},
			"durationMinutes": &types.AttributeValueMemberN{Value: "30"},
			"status":          &types.AttributeValueMemberS{Value: "confirmed"},
		}
		s.mu.Lock()
		s.put(item)
		s.mu.Unlock()
		s.bumpVersion(bookDate.String())
	}

	_, err := svc.Book(context.Background(), request(scheduling.At(10, 0), paid("pi_1", 10000), "botox"))
	if !errors.Is(err, ErrSlotNoLongerAvailable) {
		t.Fatalf("expected the re-run to see the rival booking, got %v", err)
	}
	if stub.transacts != 1 {
		t.Fatalf("expected no second write attempt, got %d", stub.transacts)
	}
}

func TestDynamoLedgerGivesUpAfterBoundedAttempts(t *testing.T) {
	stub := newStubDynamo()
	_, ledger := newDynamoService(t, stub)
	stub.beforeTransact = func(s *stubDynamo) { s.bumpVersion(bookDate.String()) }

	err := ledger.WithinDay(context.Background(), bookDate, func(ctx context.Context, tx DayTx) error {
		_, err := tx.Insert(ctx, samplePGAppointment())
		return err
	})
	if !errors.Is(err, ErrLedgerUnavailable) {
		t.Fatalf("expected ledger unavailable, got %v", err)
	}
	if stub.transacts != defaultDynamoAttempts {
		t.Fatalf("expected %d attempts, got %d", defaultDynamoAttempts, stub.transacts)
	}
}

func TestDynamoLedgerPaymentPointerRejectsReuse(t *testing.T) {
	stub := newStubDynamo()
	_, ledger := newDynamoService(t, stub)
	ctx := context.Background()

	insert := func(a Appointment) error {
		return ledger.WithinDay(ctx, a.Date, func(ctx context.Context, tx DayTx) error {
			_, err := tx.Insert(ctx, a)
			return err
		})
	}
	first := samplePGAppointment()
	if err := insert(first); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	second := samplePGAppointment()
	second.ID = "appt-2"
	second.Start = scheduling.At(15, 0)
	if err := insert(second); !errors.Is(err, ErrDuplicatePayment) {
		t.Fatalf("expected duplicate payment, got %v", err)
	}
}

func TestDynamoLedgerToleratesGarbageDuration(t *testing.T) {
	stub := newStubDynamo()
	_, ledger := newDynamoService(t, stub)
	stub.put(map[string]types.AttributeValue{
		"PK":              &types.AttributeValueMemberS{Value: "DAY#2025-03-14"},
		"SK":              &types.AttributeValueMemberS{Value: "APPT#0600#legacy"},
		"id":              &types.AttributeValueMemberS{Value: "legacy"},
		"date":            &types.AttributeValueMemberS{Value: "2025-03-14"},
		"startMinute":     &types.AttributeValueMemberN{Value: "600"},
		"durationMinutes": &types.AttributeValueMemberS{Value: "ninety"},
		"status":          &types.AttributeValueMemberS{Value: "confirmed"},
	})

	occ, err := ledger.ListActive(context.Background(), bookDate)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(occ) != 1 || occ[0].DurationMinutes != 0 || occ[0].Interval().Minutes() != 60 {
		t.Fatalf("expected fallback occupancy, got %+v", occ)
	}

	for raw, want := range map[types.AttributeValue]int{
		&types.AttributeValueMemberN{Value: "45"}:    45,
		&types.AttributeValueMemberS{Value: " 90"}:   90,
		&types.AttributeValueMemberN{Value: "-3"}:    0,
		&types.AttributeValueMemberNULL{Value: true}: 0,
	} {
		if got := lenientDuration(raw); got != want {
			t.Errorf("lenientDuration(%#v) = %d, want %d", raw, got, want)
		}
	}
}

func TestDynamoLedgerUpdateStatus(t *testing.T) {
	stub := newStubDynamo()
	svc, _ := newDynamoService(t, stub)
	ctx := context.Background()

	appt, err := svc.Book(ctx, request(scheduling.At(10, 0), paid("pi_1", 10000), "botox"))
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	cancelled, err := svc.UpdateStatus(ctx, appt.ID, StatusCancelled, "no show", "staff")
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if cancelled.Status != StatusCancelled || cancelled.Notes != "no show" {
		t.Fatalf("unexpected %+v", cancelled)
	}
	if _, err := svc.UpdateStatus(ctx, appt.ID, StatusCompleted, "", "staff"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, "nope", StatusCancelled, "", "staff"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	occ, _ := svc.ledger.ListActive(ctx, bookDate)
	if len(occ) != 0 {
		t.Fatalf("cancelled appointment must not occupy the day, got %+v", occ)
	}
}
