package types_test

import (
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/changegate/pkg/domain/types"
)

func TestChangeStatus_IsValid(t *testing.T) {
	tests := []struct {
		name   string
		status types.ChangeStatus
		want   bool
	}{
		{name: "submitted", status: types.ChangeStatusSubmitted, want: true},
		{name: "implementing", status: types.ChangeStatusImplementing, want: true},
		{name: "closed", status: types.ChangeStatusClosed, want: true},
		{name: "lowercase", status: types.ChangeStatus("submitted"), want: false},
		{name: "empty", status: types.ChangeStatus(""), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gt.Value(t, tt.status.IsValid()).Equal(tt.want)
		})
	}
}

func TestChangeStatus_IsTerminal(t *testing.T) {
	terminal := map[types.ChangeStatus]bool{
		types.ChangeStatusCompleted: true,
		types.ChangeStatusFailed:    true,
		types.ChangeStatusClosed:    true,
	}

	for _, status := range types.AllChangeStatuses() {
		if terminal[status] {
			gt.B(t, status.IsTerminal()).Describef("status %s", status).True()
		} else {
			gt.B(t, status.IsTerminal()).Describef("status %s", status).False()
		}
	}
}

func TestAllChangeStatuses(t *testing.T) {
	statuses := types.AllChangeStatuses()
	gt.A(t, statuses).Length(9)

	seen := make(map[types.ChangeStatus]bool)
	for _, status := range statuses {
		gt.B(t, status.IsValid()).True()
		gt.B(t, seen[status]).False()
		seen[status] = true
		gt.String(t, status.Label()).NotEqual("")
	}
}

func TestParseChangeStatus(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    types.ChangeStatus
		wantErr bool
	}{
		{name: "reviewed", input: "REVIEWED", want: types.ChangeStatusReviewed},
		{name: "failed", input: "FAILED", want: types.ChangeStatusFailed},
		{name: "unknown", input: "DONE", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := types.ParseChangeStatus(tt.input)
			if tt.wantErr {
				gt.Error(t, err)
				return
			}
			gt.NoError(t, err)
			gt.V(t, got).Equal(tt.want)
		})
	}
}
