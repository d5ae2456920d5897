package appointments

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/wolfman30/medspa-booking/internal/payments"
	"github.com/wolfman30/medspa-booking/internal/scheduling"
	"github.com/wolfman30/medspa-booking/pkg/logging"
)

const defaultDynamoAttempts = 5

type dynamoAPI interface {
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(context.Context, *dynamodb.TransactWriteItemsInput, ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoLedger is a single-table document-store ledger.
//
//	DAY#<date> / META               version counter for the day
//	DAY#<date> / APPT#<start>#<id>  the appointment
//	APPT#<id>  / REF                pointer used by Get
//	PAY#<method>#<external id> / REF  one appointment per payment
//
// Every insert bumps the day version in the same transaction, conditioned on the
// version that was read. A lost race re-runs the whole section.
type DynamoLedger struct {
	client      dynamoAPI
	tableName   string
	maxAttempts int
	logger      *logging.Logger
}

func NewDynamoLedger(client dynamoAPI, tableName string, logger *logging.Logger) *DynamoLedger {
	if client == nil {
		panic("appointments: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("appointments: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DynamoLedger{client: client, tableName: tableName, maxAttempts: defaultDynamoAttempts, logger: logger}
}

type dynamoRecord struct {
	PK                string   `dynamodbav:"PK"`
	SK                string   `dynamodbav:"SK"`
	ID                string   `dynamodbav:"id"`
	ClientID          string   `dynamodbav:"clientId"`
	ClientName        string   `dynamodbav:"clientName,omitempty"`
	ClientEmail       string   `dynamodbav:"clientEmail,omitempty"`
	Date              string   `dynamodbav:"date"`
	StartMinute       int      `dynamodbav:"startMinute"`
	TreatmentIDs      []string `dynamodbav:"treatmentIds"`
	Title             string   `dynamodbav:"title"`
	TotalPriceCents   int64    `dynamodbav:"totalPriceCents"`
	Status            string   `dynamodbav:"status"`
	Notes             string   `dynamodbav:"notes,omitempty"`
	PaymentMethod     string   `dynamodbav:"paymentMethod"`
	PaymentExternalID string   `dynamodbav:"paymentExternalId"`
	PaymentStatus     string   `dynamodbav:"paymentStatus"`
	PaymentCents      int64    `dynamodbav:"paymentAmountCents"`
	PaymentRaw        string   `dynamodbav:"paymentRaw,omitempty"`
	CreatedAt         string   `dynamodbav:"createdAt"`
	UpdatedAt         string   `dynamodbav:"updatedAt"`
}

type dynamoRef struct {
	PK            string `dynamodbav:"PK"`
	SK            string `dynamodbav:"SK"`
	AppointmentID string `dynamodbav:"appointmentId"`
	TargetPK      string `dynamodbav:"targetPK"`
	TargetSK      string `dynamodbav:"targetSK"`
}

func dayPK(date civil.Date) string { return "DAY#" + date.String() }

func apptSK(start scheduling.TimeOfDay, id string) string {
	return fmt.Sprintf("APPT#%04d#%s", int(start), id)
}

func refPK(id string) string { return "APPT#" + id }

func paymentPK(method payments.Method, externalID string) string {
	return "PAY#" + string(method) + "#" + externalID
}

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// dayItems reads the day's version and appointments with strongly consistent reads.
func (l *DynamoLedger) dayItems(ctx context.Context, date civil.Date) (int64, []Appointment, error) {
	meta, err := l.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(l.tableName),
		Key:            key(dayPK(date), "META"),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, nil, ledgerUnavailable("get day", err)
	}
	var version int64
	if meta.Item != nil {
		if v, ok := meta.Item["version"].(*types.AttributeValueMemberN); ok {
			version, _ = strconv.ParseInt(v.Value, 10, 64)
		}
	}

	var appts []Appointment
	var startKey map[string]types.AttributeValue
	for {
		out, err := l.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(l.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :appt)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":   &types.AttributeValueMemberS{Value: dayPK(date)},
				":appt": &types.AttributeValueMemberS{Value: "APPT#"},
			},
			ConsistentRead:    aws.Bool(true),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return 0, nil, ledgerUnavailable("query day", err)
		}
		for _, item := range out.Items {
			a, err := decodeAppointment(item)
			if err != nil {
				return 0, nil, ledgerUnavailable("decode appointment", err)
			}
			appts = append(appts, a)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return version, appts, nil
}

func (l *DynamoLedger) ListActive(ctx context.Context, date civil.Date) ([]scheduling.Occupancy, error) {
	_, appts, err := l.dayItems(ctx, date)
	if err != nil {
		return nil, err
	}
	return activeOccupancy(appts), nil
}

func activeOccupancy(appts []Appointment) []scheduling.Occupancy {
	var out []scheduling.Occupancy
	for _, a := range appts {
		if a.Status.Active() {
			out = append(out, a.Occupancy())
		}
	}
	return out
}

func (l *DynamoLedger) WithinDay(ctx context.Context, date civil.Date, fn func(ctx context.Context, tx DayTx) error) error {
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		version, appts, err := l.dayItems(ctx, date)
		if err != nil {
			return err
		}
		tx := &dynamoDayTx{date: date, occupied: activeOccupancy(appts)}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if len(tx.pending) == 0 {
			return nil
		}

		err = l.commit(ctx, date, version, tx.pending)
		if !errors.Is(err, errVersionConflict) {
			return err
		}
		l.logger.Debug("day version conflict, retrying", "date", date.String(), "attempt", attempt)
	}
	return ledgerUnavailable("within day", fmt.Errorf("%s still contended after %d attempts", date, l.maxAttempts))
}

var errVersionConflict = errors.New("appointments: day version changed")

func (l *DynamoLedger) commit(ctx context.Context, date civil.Date, version int64, pending []Appointment) error {
	metaCond := "attribute_not_exists(PK) OR version = :v"
	items := []types.TransactWriteItem{{
		Put: &types.Put{
			TableName: aws.String(l.tableName),
			Item: map[string]types.AttributeValue{
				"PK":      &types.AttributeValueMemberS{Value: dayPK(date)},
				"SK":      &types.AttributeValueMemberS{Value: "META"},
				"version": &types.AttributeValueMemberN{Value: strconv.FormatInt(version+1, 10)},
			},
			ConditionExpression: aws.String(metaCond),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":v": &types.AttributeValueMemberN{Value: strconv.FormatInt(version, 10)},
			},
		},
	}}
	// paymentSlots remembers which transaction items guard payment uniqueness.
	paymentSlots := map[int]bool{}
	for _, a := range pending {
		rec, err := encodeAppointment(a)
		if err != nil {
			return err
		}
		ref, err := attributevalue.MarshalMap(dynamoRef{PK: refPK(a.ID), SK: "REF", AppointmentID: a.ID, TargetPK: rec.PK, TargetSK: rec.SK})
		if err != nil {
			return fmt.Errorf("appointments: marshal ref: %w", err)
		}
		pay, err := attributevalue.MarshalMap(dynamoRef{PK: paymentPK(a.Payment.Method, a.Payment.ExternalID), SK: "REF", AppointmentID: a.ID, TargetPK: rec.PK, TargetSK: rec.SK})
		if err != nil {
			return fmt.Errorf("appointments: marshal payment ref: %w", err)
		}
		item, err := attributevalue.MarshalMap(rec)
		if err != nil {
			return fmt.Errorf("appointments: marshal appointment: %w", err)
		}
		// durationMinutes lives outside dynamoRecord so a malformed value never fails decoding.
		item["durationMinutes"] = &types.AttributeValueMemberN{Value: strconv.Itoa(a.DurationMinutes)}
		notExists := aws.String("attribute_not_exists(PK)")
		items = append(items,
			types.TransactWriteItem{Put: &types.Put{TableName: aws.String(l.tableName), Item: item, ConditionExpression: notExists}},
			types.TransactWriteItem{Put: &types.Put{TableName: aws.String(l.tableName), Item: ref, ConditionExpression: notExists}},
		)
		paymentSlots[len(items)] = true
		items = append(items, types.TransactWriteItem{Put: &types.Put{TableName: aws.String(l.tableName), Item: pay, ConditionExpression: notExists}})
	}

	_, err := l.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err == nil {
		return nil
	}
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for i, reason := range canceled.CancellationReasons {
			if aws.ToString(reason.Code) != "ConditionalCheckFailed" {
				continue
			}
			if i == 0 {
				return errVersionConflict
			}
			if paymentSlots[i] {
				return ErrDuplicatePayment
			}
		}
	}
	return ledgerUnavailable("transact write", err)
}

type dynamoDayTx struct {
	date     civil.Date
	occupied []scheduling.Occupancy
	pending  []Appointment
}

func (tx *dynamoDayTx) ListActive(ctx context.Context) ([]scheduling.Occupancy, error) {
	out := slices.Clone(tx.occupied)
	for _, a := range tx.pending {
		out = append(out, a.Occupancy())
	}
	return out, nil
}

func (tx *dynamoDayTx) Insert(ctx context.Context, a Appointment) (Appointment, error) {
	if a.Date != tx.date {
		return Appointment{}, fmt.Errorf("appointments: insert for %s inside section for %s", a.Date, tx.date)
	}
	tx.pending = append(tx.pending, a)
	return a, nil
}

func (l *DynamoLedger) getRef(ctx context.Context, pk string) (dynamoRef, error) {
	out, err := l.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(l.tableName),
		Key:            key(pk, "REF"),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return dynamoRef{}, ledgerUnavailable("get ref", err)
	}
	if out.Item == nil {
		return dynamoRef{}, ErrNotFound
	}
	var ref dynamoRef
	if err := attributevalue.UnmarshalMap(out.Item, &ref); err != nil {
		return dynamoRef{}, ledgerUnavailable("decode ref", err)
	}
	return ref, nil
}

func (l *DynamoLedger) getTarget(ctx context.Context, ref dynamoRef) (Appointment, error) {
	out, err := l.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(l.tableName),
		Key:            key(ref.TargetPK, ref.TargetSK),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Appointment{}, ledgerUnavailable("get appointment", err)
	}
	if out.Item == nil {
		return Appointment{}, ErrNotFound
	}
	a, err := decodeAppointment(out.Item)
	if err != nil {
		return Appointment{}, ledgerUnavailable("decode appointment", err)
	}
	return a, nil
}

func (l *DynamoLedger) Get(ctx context.Context, id string) (Appointment, error) {
	ref, err := l.getRef(ctx, refPK(id))
	if err != nil {
		return Appointment{}, err
	}
	return l.getTarget(ctx, ref)
}

func (l *DynamoLedger) FindByPayment(ctx context.Context, method payments.Method, externalID string) (Appointment, error) {
	ref, err := l.getRef(ctx, paymentPK(method, externalID))
	if err != nil {
		return Appointment{}, err
	}
	return l.getTarget(ctx, ref)
}

func (l *DynamoLedger) ListDay(ctx context.Context, date civil.Date) ([]Appointment, error) {
	_, appts, err := l.dayItems(ctx, date)
	return appts, err
}

func (l *DynamoLedger) UpdateStatus(ctx context.Context, id string, to Status, notes string, at time.Time) (Appointment, Status, error) {
	ref, err := l.getRef(ctx, refPK(id))
	if err != nil {
		return Appointment{}, "", err
	}
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		current, err := l.getTarget(ctx, ref)
		if err != nil {
			return Appointment{}, "", err
		}
		from := current.Status
		if !from.CanTransition(to) {
			return Appointment{}, from, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		}

		update := "SET #status = :to, updatedAt = :at"
		values := map[string]types.AttributeValue{
			":to":   &types.AttributeValueMemberS{Value: string(to)},
			":from": &types.AttributeValueMemberS{Value: string(from)},
			":at":   &types.AttributeValueMemberS{Value: at.UTC().Format(time.RFC3339Nano)},
		}
		if notes != "" {
			update += ", notes = :notes"
			values[":notes"] = &types.AttributeValueMemberS{Value: notes}
		}
		out, err := l.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String(l.tableName),
			Key:                       key(ref.TargetPK, ref.TargetSK),
			UpdateExpression:          aws.String(update),
			ConditionExpression:       aws.String("#status = :from"),
			ExpressionAttributeNames:  map[string]string{"#status": "status"},
			ExpressionAttributeValues: values,
			ReturnValues:              types.ReturnValueAllNew,
		})
		if err != nil {
			var ccf *types.ConditionalCheckFailedException
			if errors.As(err, &ccf) {
				continue
			}
			return Appointment{}, from, ledgerUnavailable("update status", err)
		}
		updated, err := decodeAppointment(out.Attributes)
		if err != nil {
			return Appointment{}, from, ledgerUnavailable("decode appointment", err)
		}
		return updated, from, nil
	}
	return Appointment{}, "", ledgerUnavailable("update status", fmt.Errorf("appointment %s still contended", id))
}

func encodeAppointment(a Appointment) (dynamoRecord, error) {
	if a.ID == "" {
		return dynamoRecord{}, errors.New("appointments: appointment id required")
	}
	return dynamoRecord{
		PK:                dayPK(a.Date),
		SK:                apptSK(a.Start, a.ID),
		ID:                a.ID,
		ClientID:          a.ClientID,
		ClientName:        a.ClientName,
		ClientEmail:       a.ClientEmail,
		Date:              a.Date.String(),
		StartMinute:       int(a.Start),
		TreatmentIDs:      a.TreatmentIDs,
		Title:             a.Title,
		TotalPriceCents:   a.TotalPriceCents,
		Status:            string(a.Status),
		Notes:             a.Notes,
		PaymentMethod:     string(a.Payment.Method),
		PaymentExternalID: a.Payment.ExternalID,
		PaymentStatus:     string(a.Payment.Status),
		PaymentCents:      a.Payment.AmountCents,
		PaymentRaw:        string(a.Payment.RawPayload),
		CreatedAt:         a.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:         a.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

// decodeAppointment tolerates a durationMinutes attribute that is missing, a string,
// or garbage: anything unusable decodes as zero and Occupancy falls back to 60 minutes.
func decodeAppointment(item map[string]types.AttributeValue) (Appointment, error) {
	var rec dynamoRecord
	if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
		return Appointment{}, err
	}
	date, err := civil.ParseDate(rec.Date)
	if err != nil {
		return Appointment{}, fmt.Errorf("appointments: bad date %q: %w", rec.Date, err)
	}
	a := Appointment{
		ID:              rec.ID,
		ClientID:        rec.ClientID,
		ClientName:      rec.ClientName,
		ClientEmail:     rec.ClientEmail,
		Date:            date,
		Start:           scheduling.TimeOfDay(rec.StartMinute),
		DurationMinutes: lenientDuration(item["durationMinutes"]),
		TreatmentIDs:    rec.TreatmentIDs,
		Title:           rec.Title,
		TotalPriceCents: rec.TotalPriceCents,
		Status:          Status(rec.Status),
		Notes:           rec.Notes,
		Payment: Payment{
			Method:      payments.Method(rec.PaymentMethod),
			ExternalID:  rec.PaymentExternalID,
			Status:      payments.Status(rec.PaymentStatus),
			AmountCents: rec.PaymentCents,
		},
	}
	if rec.PaymentRaw != "" {
		a.Payment.RawPayload = []byte(rec.PaymentRaw)
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339Nano, rec.CreatedAt)
	a.UpdatedAt, _ = time.Parse(time.RFC3339Nano, rec.UpdatedAt)
	return a, nil
}

func lenientDuration(av types.AttributeValue) int {
	var raw string
	switch v := av.(type) {
	case *types.AttributeValueMemberN:
		raw = v.Value
	case *types.AttributeValueMemberS:
		raw = v.Value
	default:
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

var _ Ledger = (*DynamoLedger)(nil)
