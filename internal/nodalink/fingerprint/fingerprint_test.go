package fingerprint_test

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/nodalink/nodalink/internal/nodalink/fingerprint"
)

func TestBuild_FullFingerprint(t *testing.T) {
	fp, err := fingerprint.Build("kitchen", "07-08", "weekday", []string{"guest_mode"}, "single_press")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := "kitchen|07-08|weekday|guest_mode|single_press"
	if fp != want {
		t.Errorf("got %q, want %q", fp, want)
	}
}

func TestBuild_TrimsTrailingEmptyComponents(t *testing.T) {
	fp, err := fingerprint.Build("kitchen", "07-08", "", nil, "")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if fp != "kitchen|07-08" {
		t.Errorf("got %q, want %q", fp, "kitchen|07-08")
	}
}

func TestBuild_KeepsInteriorEmptyComponents(t *testing.T) {
	fp, err := fingerprint.Build("bedroom", "22-23", "", []string{"night_mode"}, "presence_detected")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := "bedroom|22-23||night_mode|presence_detected"
	if fp != want {
		t.Errorf("got %q, want %q", fp, want)
	}
}

func TestBuild_SortsFlags(t *testing.T) {
	a, err := fingerprint.Build("lr", "18-19", "weekday", []string{"z_flag", "a_flag"}, "")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	b, err := fingerprint.Build("lr", "18-19", "weekday", []string{"a_flag", "z_flag"}, "")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if a != b {
		t.Errorf("flag order changed the fingerprint: %q vs %q", a, b)
	}
	if a != "lr|18-19|weekday|a_flag+z_flag" {
		t.Errorf("unexpected canonical form %q", a)
	}
}

func TestBuild_RejectsInvalidRoom(t *testing.T) {
	for _, room := range []string{"", "1room", "living room", "room-a"} {
		if _, err := fingerprint.Build(room, "07-08", "", nil, ""); !errors.Is(err, fingerprint.ErrInvalid) {
			t.Errorf("room %q: expected ErrInvalid, got %v", room, err)
		}
	}
}

func TestBuild_RejectsEmptyTimeBucket(t *testing.T) {
	if _, err := fingerprint.Build("kitchen", "", "", nil, ""); !errors.Is(err, fingerprint.ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}

func TestParse_RoundTrip(t *testing.T) {
	fps := []string{
		"kitchen|07-08",
		"kitchen|07-08|weekday",
		"living_room|18-19|weekday|presence_detected",
		"bedroom|22:00-22:30||night_mode|presence_detected",
		"office|08-09|weekend|focus_mode+guest_mode|double_press",
	}
	for _, fp := range fps {
		c := fingerprint.Parse(fp)
		rebuilt, err := fingerprint.Build(c.Room, c.TimeBucket, c.DayType, c.OptionalFlags, c.InteractionType)
		if err != nil {
			t.Errorf("%q: rebuild failed: %v", fp, err)
			continue
		}
		if rebuilt != fp {
			t.Errorf("round trip changed %q to %q", fp, rebuilt)
		}
	}
}

func TestParse_Components(t *testing.T) {
	c := fingerprint.Parse("office|08-09|weekend|focus_mode+guest_mode|double_press")
	want := fingerprint.Components{
		Room:            "office",
		TimeBucket:      "08-09",
		DayType:         "weekend",
		OptionalFlags:   []string{"focus_mode", "guest_mode"},
		InteractionType: "double_press",
	}
	if !reflect.DeepEqual(c, want) {
		t.Errorf("got %+v, want %+v", c, want)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		fp      string
		wantOK  bool
	}{
		{"kitchen|07-08", true},
		{"kitchen|07:30-08:00", true},
		{"kitchen|07-08|weekday", true},
		{"kitchen|07-08|weekday|guest_mode|single_press", true},
		{"kitchen|07-08||guest_mode|single_press", true},
		{"", false},
		{"kitchen", false},
		{"1kitchen|07-08", false},
		{"kitchen|7-8", false},
		{"kitchen|07-08|monday", false},
		{"kitchen|07-08|weekday|bad-flag", false},
		{"kitchen|07-08|weekday|ok_flag|bad-press", false},
		{"kitchen|07-08|weekday|f|x|extra", false},
	}
	for _, tt := range tests {
		errs := fingerprint.Validate(tt.fp)
		if ok := len(errs) == 0; ok != tt.wantOK {
			t.Errorf("Validate(%q) = %v, want valid=%v", tt.fp, errs, tt.wantOK)
		}
	}
}

func TestFallbacks_FullHierarchy(t *testing.T) {
	got := fingerprint.Fallbacks("kitchen|07-08|weekday|guest_mode|single_press")
	want := []string{
		"kitchen|07-08|weekday|guest_mode",
		"kitchen|07-08|weekday",
		"kitchen|07-08",
		"kitchen",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestFallbacks_SkipsEmptyComponents(t *testing.T) {
	got := fingerprint.Fallbacks("kitchen|07-08|weekday||single_press")
	want := []string{
		"kitchen|07-08|weekday",
		"kitchen|07-08",
		"kitchen",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestFallbacks_RoomAndBucketOnly(t *testing.T) {
	got := fingerprint.Fallbacks("kitchen|07-08")
	want := []string{"kitchen"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestTimeBucket_HourBuckets(t *testing.T) {
	at := func(h, m int) time.Time {
		return time.Date(2025, 6, 4, h, m, 0, 0, time.UTC)
	}
	tests := []struct {
		t       time.Time
		minutes int
		want    string
	}{
		{at(8, 15), 60, "08-09"},
		{at(23, 30), 60, "23-00"},
		{at(13, 10), 30, "13:00-13:30"},
		{at(13, 45), 30, "13:30-14:00"},
		{at(23, 59), 30, "23:30-00:00"},
		{at(13, 59), 15, "13:45-14:00"},
		{at(0, 0), 15, "00:00-00:15"},
		{at(23, 50), 15, "23:45-00:00"},
		{at(1, 35), 90, "01:30-03:00"},
		{at(0, 5), 10, "00:00-00:10"},
	}
	for _, tt := range tests {
		if got := fingerprint.TimeBucket(tt.t, tt.minutes); got != tt.want {
			t.Errorf("TimeBucket(%v, %d) = %q, want %q", tt.t, tt.minutes, got, tt.want)
		}
	}
}

func TestDayType(t *testing.T) {
	// 2025-06-06 is a Friday, 2025-06-07 a Saturday.
	friday := time.Date(2025, 6, 6, 23, 59, 0, 0, time.UTC)
	saturday := time.Date(2025, 6, 7, 0, 0, 0, 0, time.UTC)
	sunday := time.Date(2025, 6, 8, 12, 0, 0, 0, time.UTC)
	monday := time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC)

	if got := fingerprint.DayType(friday); got != fingerprint.DayWeekday {
		t.Errorf("Friday 23:59 = %q, want weekday", got)
	}
	if got := fingerprint.DayType(saturday); got != fingerprint.DayWeekend {
		t.Errorf("Saturday 00:00 = %q, want weekend", got)
	}
	if got := fingerprint.DayType(sunday); got != fingerprint.DayWeekend {
		t.Errorf("Sunday = %q, want weekend", got)
	}
	if got := fingerprint.DayType(monday); got != fingerprint.DayWeekday {
		t.Errorf("Monday = %q, want weekday", got)
	}
}

func TestAllTimeBuckets(t *testing.T) {
	hourly := fingerprint.AllTimeBuckets(60)
	if len(hourly) != 24 {
		t.Fatalf("expected 24 hourly buckets, got %d", len(hourly))
	}
	if hourly[0] != "00-01" || hourly[23] != "23-00" {
		t.Errorf("unexpected edge buckets: %q, %q", hourly[0], hourly[23])
	}
	quarter := fingerprint.AllTimeBuckets(15)
	if len(quarter) != 96 {
		t.Fatalf("expected 96 quarter-hour buckets, got %d", len(quarter))
	}
	if quarter[95] != "23:45-00:00" {
		t.Errorf("unexpected final bucket %q", quarter[95])
	}
}
