package fulfillment

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/decksync-system/internal/config"
	"github.com/mmeshcher/decksync-system/internal/crm"
	"github.com/mmeshcher/decksync-system/internal/model"
)

var testFields = config.FieldIDs{
	PaymentID:     5,
	HasPreOrder:   7,
	CardsTracking: 10,
	CardsShipDate: 11,
	BookTracking:  12,
	BookShipDate:  13,
}

type stubCRM struct {
	contact *crm.Contact
	findErr error

	updates []crm.ContactUpsert

	tagIDs      map[string]int64
	applyErr    error
	appliedTags []int64
	removedTags []int64
	removeErr   error
	findTagErr  error
}

func (s *stubCRM) FindContactByEmail(ctx context.Context, email string) (*crm.Contact, error) {
	return s.contact, s.findErr
}

func (s *stubCRM) UpdateContact(ctx context.Context, contactID int64, payload crm.ContactUpsert) error {
	s.updates = append(s.updates, payload)
	return nil
}

func (s *stubCRM) GetOrCreateTag(ctx context.Context, name string) (int64, error) {
	if id, ok := s.tagIDs[name]; ok {
		return id, nil
	}
	return 999, nil
}

func (s *stubCRM) ApplyTag(ctx context.Context, contactID, tagID int64) error {
	if s.applyErr != nil {
		return s.applyErr
	}
	s.appliedTags = append(s.appliedTags, tagID)
	return nil
}

func (s *stubCRM) RemoveTag(ctx context.Context, contactID, tagID int64) error {
	if s.removeErr != nil {
		return s.removeErr
	}
	s.removedTags = append(s.removedTags, tagID)
	return nil
}

func (s *stubCRM) FindTag(ctx context.Context, name string) (int64, error) {
	if s.findTagErr != nil {
		return 0, s.findTagErr
	}
	id, ok := s.tagIDs[name]
	if !ok {
		return 0, nil
	}
	return id, nil
}

func newTestTracker(stub *stubCRM) *Tracker {
	tracker := NewTracker(stub, testFields, zap.NewNop())
	tracker.now = func() time.Time {
		return time.Date(2026, time.April, 5, 10, 0, 0, 0, time.UTC)
	}
	return tracker
}

func contactWith(fields ...crm.CustomField) *crm.Contact {
	return &crm.Contact{ID: 7, CustomFields: fields}
}

func TestStatus_NotFound(t *testing.T) {
	tracker := newTestTracker(&stubCRM{})

	status, err := tracker.Status(context.Background(), "missing@example.com")
	if err != nil {
		t.Fatalf("Status error: %v", err)
	}
	if status.Found {
		t.Fatalf("expected not found")
	}
	if status.CardsShipped || status.BookShipped {
		t.Fatalf("shipped flags must be false for missing contact")
	}
	if status.State() != model.FulfillmentUnknown {
		t.Fatalf("state = %s, want unknown", status.State())
	}
}

func TestStatus_Derivation(t *testing.T) {
	tests := []struct {
		name     string
		contact  *crm.Contact
		want     model.FulfillmentState
		cards    bool
		book     bool
		preorder bool
	}{
		{
			name: "nothing shipped",
			contact: contactWith(
				crm.CustomField{ID: testFields.HasPreOrder, Content: "Yes"},
			),
			want: model.FulfillmentPending,
		},
		{
			name: "preorder with cards only",
			contact: contactWith(
				crm.CustomField{ID: testFields.HasPreOrder, Content: "Yes"},
				crm.CustomField{ID: testFields.CardsTracking, Content: "TRK1"},
			),
			want:     model.FulfillmentPartial,
			cards:    true,
			preorder: true,
		},
		{
			name: "preorder with both legs",
			contact: contactWith(
				crm.CustomField{ID: testFields.HasPreOrder, Content: "Yes"},
				crm.CustomField{ID: testFields.CardsTracking, Content: "TRK1"},
				crm.CustomField{ID: testFields.BookTracking, Content: "TRK2"},
			),
			want:     model.FulfillmentFulfilled,
			cards:    true,
			book:     true,
			preorder: true,
		},
		{
			name: "plain order shipped",
			contact: contactWith(
				crm.CustomField{ID: testFields.HasPreOrder, Content: "No"},
				crm.CustomField{ID: testFields.CardsTracking, Content: "TRK1"},
			),
			want:  model.FulfillmentFulfilled,
			cards: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := newTestTracker(&stubCRM{contact: tt.contact})

			status, err := tracker.Status(context.Background(), "a@example.com")
			if err != nil {
				t.Fatalf("Status error: %v", err)
			}
			if status.State() != tt.want {
				t.Fatalf("state = %s, want %s", status.State(), tt.want)
			}
			if status.CardsShipped != tt.cards || status.BookShipped != tt.book {
				t.Fatalf("shipped flags = %v/%v", status.CardsShipped, status.BookShipped)
			}
		})
	}
}

func TestUpdateTracking_UnknownEmail(t *testing.T) {
	stub := &stubCRM{}
	tracker := newTestTracker(stub)

	_, err := tracker.UpdateTracking(context.Background(), "missing@example.com", "TRK1", model.ShipmentLegPrimary)
	if !errors.Is(err, model.ErrContactNotFound) {
		t.Fatalf("error = %v, want ErrContactNotFound", err)
	}
	if len(stub.updates) != 0 {
		t.Fatalf("no writes expected for unknown email")
	}
}

func TestUpdateTracking_PrimaryLeg(t *testing.T) {
	stub := &stubCRM{
		contact: contactWith(),
		tagIDs: map[string]int64{
			"Cards Shipped":     21,
			"Awaiting Shipment": 22,
		},
	}
	tracker := newTestTracker(stub)

	contactID, err := tracker.UpdateTracking(context.Background(), "a@example.com", "TRK1", model.ShipmentLegPrimary)
	if err != nil {
		t.Fatalf("UpdateTracking error: %v", err)
	}
	if contactID != 7 {
		t.Fatalf("contactID = %d, want 7", contactID)
	}

	if len(stub.updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(stub.updates))
	}
	fields := stub.updates[0].CustomFields
	if len(fields) != 2 {
		t.Fatalf("fields = %+v", fields)
	}
	if fields[0].ID != testFields.CardsTracking || fields[0].Content != "TRK1" {
		t.Fatalf("tracking field = %+v", fields[0])
	}
	if fields[1].ID != testFields.CardsShipDate || fields[1].Content != "Apr 5, 2026" {
		t.Fatalf("ship date field = %+v", fields[1])
	}

	if len(stub.appliedTags) != 1 || stub.appliedTags[0] != 21 {
		t.Fatalf("applied = %v, want shipped tag 21", stub.appliedTags)
	}
	if len(stub.removedTags) != 1 || stub.removedTags[0] != 22 {
		t.Fatalf("removed = %v, want awaiting tag 22", stub.removedTags)
	}
}

func TestUpdateTracking_SecondaryLeg(t *testing.T) {
	stub := &stubCRM{
		contact: contactWith(),
		tagIDs: map[string]int64{
			"Book Shipped":           31,
			"Awaiting Book Shipment": 32,
		},
	}
	tracker := newTestTracker(stub)

	if _, err := tracker.UpdateTracking(context.Background(), "a@example.com", "TRK9", model.ShipmentLegSecondary); err != nil {
		t.Fatalf("UpdateTracking error: %v", err)
	}

	fields := stub.updates[0].CustomFields
	if fields[0].ID != testFields.BookTracking || fields[1].ID != testFields.BookShipDate {
		t.Fatalf("wrong leg fields: %+v", fields)
	}
	if stub.appliedTags[0] != 31 || stub.removedTags[0] != 32 {
		t.Fatalf("wrong leg tags: applied=%v removed=%v", stub.appliedTags, stub.removedTags)
	}
}

func TestUpdateTracking_MissingAwaitingTagSkipsRemoval(t *testing.T) {
	stub := &stubCRM{contact: contactWith(), tagIDs: map[string]int64{"Cards Shipped": 21}}
	tracker := newTestTracker(stub)

	if _, err := tracker.UpdateTracking(context.Background(), "a@example.com", "TRK1", model.ShipmentLegPrimary); err != nil {
		t.Fatalf("UpdateTracking error: %v", err)
	}
	if len(stub.removedTags) != 0 {
		t.Fatalf("nothing to remove when awaiting tag does not exist: %v", stub.removedTags)
	}
}

func TestUpdateTracking_TagFailuresDoNotFailUpdate(t *testing.T) {
	stub := &stubCRM{
		contact:  contactWith(),
		tagIDs:   map[string]int64{"Cards Shipped": 21, "Awaiting Shipment": 22},
		applyErr: errors.New("apply boom"),
	}
	tracker := newTestTracker(stub)

	if _, err := tracker.UpdateTracking(context.Background(), "a@example.com", "TRK1", model.ShipmentLegPrimary); err != nil {
		t.Fatalf("tag failures must not fail the update: %v", err)
	}
	// Снятие тега ожидания выполняется независимо от неудачи навешивания.
	if len(stub.removedTags) != 1 {
		t.Fatalf("awaiting tag removal must still run: %v", stub.removedTags)
	}
}
