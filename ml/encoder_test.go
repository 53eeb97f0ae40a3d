package ml

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestLabelEncoderSortedCodes(t *testing.T) {
	enc := NewLabelEncoder("city")
	codes := enc.FitTransform([]string{"paris", "berlin", "paris", "amsterdam"})

	if !reflect.DeepEqual(enc.Classes, []string{"amsterdam", "berlin", "paris"}) {
		t.Fatalf("unexpected classes %v", enc.Classes)
	}
	if !reflect.DeepEqual(codes, []int{2, 1, 2, 0}) {
		t.Fatalf("unexpected codes %v", codes)
	}

	back, err := enc.InverseTransform(codes)
	if err != nil {
		t.Fatalf("InverseTransform: %v", err)
	}
	if !reflect.DeepEqual(back, []string{"paris", "berlin", "paris", "amsterdam"}) {
		t.Fatalf("unexpected inverse %v", back)
	}
}

func TestLabelEncoderUnseen(t *testing.T) {
	enc := NewLabelEncoder("city")
	enc.Fit([]string{"a", "b"})

	_, err := enc.Transform([]string{"a", "c"})
	var unseen *UnseenCategoryError
	if !errors.As(err, &unseen) {
		t.Fatalf("expected UnseenCategoryError, got %v", err)
	}
	if unseen.Column != "city" || unseen.Value != "c" {
		t.Fatalf("unexpected error details %+v", unseen)
	}
	if !errors.Is(err, ErrUnseenCategory) {
		t.Fatalf("expected ErrUnseenCategory")
	}

	if _, err := enc.InverseTransform([]int{5}); err == nil {
		t.Fatalf("expected error for unknown code")
	}
}

func TestLabelEncoderJSON(t *testing.T) {
	enc := NewLabelEncoder("grade")
	enc.Fit([]string{"low", "high"})

	payload, err := json.Marshal(enc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var restored LabelEncoder
	if err := json.Unmarshal(payload, &restored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	codes, err := restored.Transform([]string{"low", "high"})
	if err != nil {
		t.Fatalf("Transform after restore: %v", err)
	}
	if !reflect.DeepEqual(codes, []int{1, 0}) {
		t.Fatalf("unexpected codes %v", codes)
	}
}
