package rollout

import "testing"

func TestLadder_Validate(t *testing.T) {
	tests := []struct {
		name    string
		ladder  Ladder
		wantErr bool
	}{
		{name: "default ladder", ladder: DefaultLadder(), wantErr: false},
		{name: "two rungs", ladder: Ladder{0, 100}, wantErr: false},
		{name: "single rung", ladder: Ladder{100}, wantErr: true},
		{name: "empty", ladder: Ladder{}, wantErr: true},
		{name: "does not start at 0", ladder: Ladder{10, 50, 100}, wantErr: true},
		{name: "does not end at 100", ladder: Ladder{0, 10, 50}, wantErr: true},
		{name: "not increasing", ladder: Ladder{0, 50, 10, 100}, wantErr: true},
		{name: "duplicate rung", ladder: Ladder{0, 10, 10, 100}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ladder.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLadder_NextPrevious(t *testing.T) {
	ladder := DefaultLadder()

	tests := []struct {
		percent  int
		next     int
		previous int
	}{
		{percent: 0, next: 10, previous: 0},
		{percent: 10, next: 50, previous: 0},
		{percent: 50, next: 100, previous: 10},
		{percent: 100, next: 100, previous: 50},
	}

	for _, tt := range tests {
		if got := ladder.Next(tt.percent); got != tt.next {
			t.Errorf("Next(%d) = %d, want %d", tt.percent, got, tt.next)
		}
		if got := ladder.Previous(tt.percent); got != tt.previous {
			t.Errorf("Previous(%d) = %d, want %d", tt.percent, got, tt.previous)
		}
	}
}

func TestLadder_Contains(t *testing.T) {
	ladder := DefaultLadder()

	for _, rung := range []int{0, 10, 50, 100} {
		if !ladder.Contains(rung) {
			t.Errorf("Contains(%d) = false, want true", rung)
		}
	}

	for _, p := range []int{-10, 5, 25, 75, 101} {
		if ladder.Contains(p) {
			t.Errorf("Contains(%d) = true, want false", p)
		}
	}
}

func TestLadder_FloorCeiling(t *testing.T) {
	ladder := DefaultLadder()

	if !ladder.Floor(0) {
		t.Error("Floor(0) = false, want true")
	}
	if ladder.Floor(10) {
		t.Error("Floor(10) = true, want false")
	}
	if !ladder.Ceiling(100) {
		t.Error("Ceiling(100) = false, want true")
	}
	if ladder.Ceiling(50) {
		t.Error("Ceiling(50) = true, want false")
	}
}

func TestParseLadder(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "default", input: "0,10,50,100", want: "0,10,50,100"},
		{name: "with spaces", input: "0, 25, 100", want: "0,25,100"},
		{name: "garbage rung", input: "0,ten,100", wantErr: true},
		{name: "invalid order", input: "0,100,50", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ladder, err := ParseLadder(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseLadder(%q) = %v, want error", tt.input, ladder)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseLadder(%q) error: %v", tt.input, err)
			}
			if ladder.String() != tt.want {
				t.Errorf("ParseLadder(%q) = %s, want %s", tt.input, ladder, tt.want)
			}
		})
	}
}
