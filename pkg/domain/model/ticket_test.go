package model_test

import (
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/changegate/pkg/domain/model"
)

func TestFormatTicketID(t *testing.T) {
	day := model.TicketDay(time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC))
	gt.Value(t, day).Equal("20240115")
	gt.Value(t, model.FormatTicketID(day, 1)).Equal(model.TicketID("CR-20240115-0001"))
	gt.Value(t, model.FormatTicketID(day, 12345)).Equal(model.TicketID("CR-20240115-12345"))
}

func TestTicketDay_UsesUTC(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	// 2024-01-16 08:00 JST is still 2024-01-15 in UTC
	gt.Value(t, model.TicketDay(time.Date(2024, 1, 16, 8, 0, 0, 0, tokyo))).Equal("20240115")
}

func TestParseTicketID(t *testing.T) {
	tests := []struct {
		input   string
		day     string
		seq     int64
		wantErr bool
	}{
		{input: "CR-20240115-0001", day: "20240115", seq: 1},
		{input: "CR-20241231-0420", day: "20241231", seq: 420},
		{input: "CR-20240115-10000", day: "20240115", seq: 10000},
		{input: "CR-20240115-L0003", day: "20240115", seq: 3},
		{input: "CR-20240115-X0003", wantErr: true},
		{input: "CR-20240115-0000", wantErr: true},
		{input: "CR-20241340-0001", wantErr: true},
		{input: "CR-2024011-0001", wantErr: true},
		{input: "cr-20240115-0001", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			day, seq, err := model.ParseTicketID(tt.input)
			if tt.wantErr {
				gt.Value(t, err).NotNil()
				return
			}
			gt.NoError(t, err).Required()
			gt.Value(t, day).Equal(tt.day)
			gt.Value(t, seq).Equal(tt.seq)
		})
	}
}

func TestTicketID_IsProvisional(t *testing.T) {
	local := model.FormatProvisionalTicketID("20240115", 2)
	gt.Value(t, local).Equal(model.TicketID("CR-20240115-L0002"))
	gt.NoError(t, local.Validate())
	gt.Bool(t, local.IsProvisional()).True()

	gt.Bool(t, model.FormatTicketID("20240115", 2).IsProvisional()).False()
	gt.Bool(t, model.TicketID("garbage").IsProvisional()).False()
}
