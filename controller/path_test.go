package controller_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-cmp/cmp"

	"github.com/tinkerbell/aqtctl/api/v1alpha1"
	"github.com/tinkerbell/aqtctl/controller"
)

const (
	testTarget = "500507630b1b5071"
	testLUN    = "4010400400000000"
	testUDID   = testTarget + testLUN
)

func TestResolveSingleDevice(t *testing.T) {
	tests := map[string]struct {
		udid string
		list *v1alpha1.FCPDiskList
		want []controller.PathCandidate
	}{
		"one active path": {
			udid: testUDID,
			list: fcpList(testUDID, activePath("0x5005076300c213e5", "0x4010400400000000")),
			want: []controller.PathCandidate{{TargetID: "0x5005076300c213e5", LUN: "0x4010400400000000", Device: "0.0.9100", Status: v1alpha1.PathActive}},
		},
		"inactive paths are skipped": {
			udid: "0x" + testUDID,
			list: fcpList(testUDID,
				v1alpha1.FCPPath{Target: "0x1", LUN: "0x1", Status: "inactive"},
				activePath("0x2", "0x2"),
			),
			want: []controller.PathCandidate{{TargetID: "0x2", LUN: "0x2", Device: "0.0.9100", Status: v1alpha1.PathActive}},
		},
		"instance id with type digit and upper case": {
			udid: testUDID,
			list: fcpList("3500507630B1B50714010400400000000", activePath("0x3", "0x3")),
			want: []controller.PathCandidate{{TargetID: "0x3", LUN: "0x3", Device: "0.0.9100", Status: v1alpha1.PathActive}},
		},
		"first matching free instance wins": {
			udid: testUDID,
			list: &v1alpha1.FCPDiskList{Instances: []v1alpha1.FCPInstance{
				{ID: "ffffffffffffffffffffffffffffffff", Status: v1alpha1.PathFree, Paths: []v1alpha1.FCPPath{activePath("0xa", "0xa")}},
				{ID: testUDID, Status: "used", Paths: []v1alpha1.FCPPath{activePath("0xb", "0xb")}},
				{ID: testUDID, Status: v1alpha1.PathFree, Paths: []v1alpha1.FCPPath{activePath("0xc", "0xc")}},
				{ID: testUDID, Status: v1alpha1.PathFree, Paths: []v1alpha1.FCPPath{activePath("0xd", "0xd")}},
			}},
			want: []controller.PathCandidate{{TargetID: "0xc", LUN: "0xc", Device: "0.0.9100", Status: v1alpha1.PathActive}},
		},
		"two active paths": {
			udid: testUDID,
			list: fcpList(testUDID, activePath("0xa", "0x1"), activePath("0xb", "0x2")),
			want: []controller.PathCandidate{
				{TargetID: "0xa", LUN: "0x1", Device: "0.0.9100", Status: v1alpha1.PathActive},
				{TargetID: "0xb", LUN: "0x2", Device: "0.0.9100", Status: v1alpha1.PathActive},
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			var busIDs []string
			lister := listerFunc(func(_ context.Context, busID string) (*v1alpha1.FCPDiskList, error) {
				busIDs = append(busIDs, busID)
				return tt.list, nil
			})
			r := controller.NewPathResolver(lister, "appliance.example", logr.Discard(), testOptions(newFakeClock()))

			got, err := r.Resolve(context.Background(), []controller.Device{{BusID: "9100"}}, tt.udid, 3, time.Second)
			if err != nil {
				t.Fatalf("expected nil err, got: %v", err)
			}
			found := false
			for _, w := range tt.want {
				if cmp.Equal(w, got) {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected one of %+v, got %+v", tt.want, got)
			}
			if diff := cmp.Diff([]string{"0.0.9100"}, busIDs); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func TestResolvePoolsDevices(t *testing.T) {
	lists := map[string]*v1alpha1.FCPDiskList{
		"0.0.9100": fcpList(testUDID, activePath("0xa", "0x1"), activePath("0xb", "0x1")),
		"0.0.9200": fcpList(testUDID, activePath("0xc", "0x1"), activePath("0xd", "0x1")),
	}
	lister := listerFunc(func(_ context.Context, busID string) (*v1alpha1.FCPDiskList, error) {
		return lists[busID], nil
	})
	devices := []controller.Device{{BusID: "9100"}, {BusID: "0.0.9200"}}

	opts := testOptions(newFakeClock())
	opts.Rand = rand.New(rand.NewPCG(7, 11))
	r := controller.NewPathResolver(lister, "appliance.example", logr.Discard(), opts)

	seen := map[string]int{}
	const trials = 400
	for i := 0; i < trials; i++ {
		got, err := r.Resolve(context.Background(), devices, testUDID, 1, time.Second)
		if err != nil {
			t.Fatalf("expected nil err, got: %v", err)
		}
		seen[got.Device+"/"+got.TargetID]++
	}

	want := []string{"0.0.9100/0xa", "0.0.9100/0xb", "0.0.9200/0xc", "0.0.9200/0xd"}
	if len(seen) != len(want) {
		t.Fatalf("expected every pooled path to be picked, got %v", seen)
	}
	for _, k := range want {
		// Each path is expected 100 times, far outside this band only with a broken selection.
		if seen[k] < 50 || seen[k] > 150 {
			t.Errorf("expected %s to be picked about %d times, got %d", k, trials/len(want), seen[k])
		}
	}
}

func TestResolveSeededIsReproducible(t *testing.T) {
	lister := listerFunc(func(_ context.Context, _ string) (*v1alpha1.FCPDiskList, error) {
		return fcpList(testUDID, activePath("0xa", "0x1"), activePath("0xb", "0x1"), activePath("0xc", "0x1")), nil
	})
	run := func() []string {
		opts := testOptions(newFakeClock())
		opts.Rand = rand.New(rand.NewPCG(42, 42))
		r := controller.NewPathResolver(lister, "appliance.example", logr.Discard(), opts)
		var picks []string
		for i := 0; i < 20; i++ {
			got, err := r.Resolve(context.Background(), []controller.Device{{BusID: "9100"}}, testUDID, 1, time.Second)
			if err != nil {
				t.Fatalf("expected nil err, got: %v", err)
			}
			picks = append(picks, got.TargetID)
		}
		return picks
	}

	if diff := cmp.Diff(run(), run()); diff != "" {
		t.Fatal(diff)
	}
}

func TestResolveRescans(t *testing.T) {
	tests := map[string]struct {
		activeOnScan int
		scanBudget   int
		wantErr      bool
		wantQueries  int
		wantElapsed  time.Duration
	}{
		"found on first scan":  {activeOnScan: 1, scanBudget: 6, wantQueries: 1},
		"found on third scan":  {activeOnScan: 3, scanBudget: 6, wantQueries: 3, wantElapsed: 2 * 15 * time.Second},
		"found on last scan":   {activeOnScan: 6, scanBudget: 6, wantQueries: 6, wantElapsed: 5 * 15 * time.Second},
		"never found":          {activeOnScan: 0, scanBudget: 6, wantErr: true, wantQueries: 6, wantElapsed: 5 * 15 * time.Second},
		"single scan no sleep": {activeOnScan: 0, scanBudget: 1, wantErr: true, wantQueries: 1},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			fc := newFakeClock()
			start := fc.Now()
			queries := 0
			lister := listerFunc(func(_ context.Context, _ string) (*v1alpha1.FCPDiskList, error) {
				queries++
				if queries == tt.activeOnScan {
					return fcpList(testUDID, activePath("0xa", "0x1")), nil
				}
				return fcpList(testUDID, v1alpha1.FCPPath{Target: "0xa", LUN: "0x1", Status: "inactive"}), nil
			})
			r := controller.NewPathResolver(lister, "appliance.example", logr.Discard(), testOptions(fc))

			_, err := r.Resolve(context.Background(), []controller.Device{{BusID: "9100"}}, testUDID, tt.scanBudget, 15*time.Second)
			if tt.wantErr {
				var noPath *controller.NoPathError
				if !errors.As(err, &noPath) {
					t.Fatalf("expected NoPathError, got: %v", err)
				}
				want := &controller.NoPathError{UDID: testUDID, Address: "appliance.example", Devices: []string{"0.0.9100"}, Scans: tt.scanBudget}
				if diff := cmp.Diff(want, noPath); diff != "" {
					t.Fatal(diff)
				}
			} else if err != nil {
				t.Fatalf("expected nil err, got: %v", err)
			}
			if queries != tt.wantQueries {
				t.Errorf("expected %d queries, got %d", tt.wantQueries, queries)
			}
			if elapsed := fc.Since(start); elapsed != tt.wantElapsed {
				t.Errorf("expected %v to elapse, got %v", tt.wantElapsed, elapsed)
			}
		})
	}
}

func TestResolveDiscoveryRetries(t *testing.T) {
	errDown := errors.New("service unavailable")

	tests := map[string]struct {
		failures    int
		empty       bool
		wantErr     bool
		wantQueries int
		wantElapsed time.Duration
	}{
		"transient errors":    {failures: 2, wantQueries: 3, wantElapsed: 2 * 15 * time.Second},
		"transient no data":   {failures: 5, empty: true, wantQueries: 6, wantElapsed: 5 * 15 * time.Second},
		"errors exhausted":    {failures: 6, wantErr: true, wantQueries: 6, wantElapsed: 5 * 15 * time.Second},
		"no data exhausted":   {failures: 100, empty: true, wantErr: true, wantQueries: 6, wantElapsed: 5 * 15 * time.Second},
		"first query answers": {failures: 0, wantQueries: 1},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			fc := newFakeClock()
			start := fc.Now()
			queries := 0
			lister := listerFunc(func(_ context.Context, _ string) (*v1alpha1.FCPDiskList, error) {
				queries++
				switch {
				case queries > tt.failures:
					return fcpList(testUDID, activePath("0xa", "0x1")), nil
				case tt.empty:
					return &v1alpha1.FCPDiskList{}, nil
				default:
					return nil, errDown
				}
			})
			r := controller.NewPathResolver(lister, "appliance.example", logr.Discard(), testOptions(fc))

			// A scan budget of 3 shows that a failed discovery is not rescanned.
			_, err := r.Resolve(context.Background(), []controller.Device{{BusID: "9100"}}, testUDID, 3, time.Hour)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected err, got nil")
				}
				var noPath *controller.NoPathError
				if errors.As(err, &noPath) {
					t.Fatalf("expected discovery failure, got: %v", err)
				}
				if !tt.empty && !errors.Is(err, errDown) {
					t.Fatalf("expected aggregated %v, got: %v", errDown, err)
				}
			} else if err != nil {
				t.Fatalf("expected nil err, got: %v", err)
			}
			if queries != tt.wantQueries {
				t.Errorf("expected %d queries, got %d", tt.wantQueries, queries)
			}
			if elapsed := fc.Since(start); elapsed != tt.wantElapsed {
				t.Errorf("expected %v to elapse, got %v", tt.wantElapsed, elapsed)
			}
		})
	}
}

func TestResolveInvalidInput(t *testing.T) {
	lister := listerFunc(func(_ context.Context, _ string) (*v1alpha1.FCPDiskList, error) {
		t.Fatal("lister must not be queried")
		return nil, nil
	})
	r := controller.NewPathResolver(lister, "appliance.example", logr.Discard(), testOptions(newFakeClock()))

	if _, err := r.Resolve(context.Background(), nil, testUDID, 1, time.Second); err == nil {
		t.Error("expected err without devices")
	}
	if _, err := r.Resolve(context.Background(), []controller.Device{{BusID: "9100"}}, "1234", 1, time.Second); err == nil {
		t.Error("expected err for a short udid")
	}
}

func TestResolveCancelled(t *testing.T) {
	errDown := errors.New("service unavailable")

	tests := map[string]struct {
		cancelFirst bool
		list        *v1alpha1.FCPDiskList
		err         error
		wantQueries int
	}{
		"before the first scan": {cancelFirst: true},
		"during discovery":      {err: errDown, wantQueries: 1},
		"empty answer":          {list: &v1alpha1.FCPDiskList{}, wantQueries: 1},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			fc := newFakeClock()
			start := fc.Now()
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if tt.cancelFirst {
				cancel()
			}
			queries := 0
			lister := listerFunc(func(_ context.Context, _ string) (*v1alpha1.FCPDiskList, error) {
				queries++
				cancel()
				return tt.list, tt.err
			})
			r := controller.NewPathResolver(lister, "appliance.example", logr.Discard(), testOptions(fc))

			_, err := r.Resolve(ctx, []controller.Device{{BusID: "9100"}}, testUDID, 3, time.Minute)
			if !errors.Is(err, context.Canceled) {
				t.Fatalf("expected %v, got: %v", context.Canceled, err)
			}
			if queries != tt.wantQueries {
				t.Errorf("expected %d queries, got %d", tt.wantQueries, queries)
			}
			if elapsed := fc.Since(start); elapsed != 0 {
				t.Errorf("expected no time to elapse, got %v", elapsed)
			}
		})
	}
}
