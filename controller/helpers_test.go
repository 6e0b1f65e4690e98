package controller_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/tinkerbell/aqtctl/api/v1alpha1"
	"github.com/tinkerbell/aqtctl/controller"
	"github.com/tinkerbell/aqtctl/pkg/zaci"
)

// This source file is currently a bucket of stuff. If it grows too big, consider breaking it
// into more granular helper sources.

const testPassword = "secret"

func newFakeClock() *clocktesting.FakeClock {
	return clocktesting.NewFakeClock(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
}

func testOptions(fc *clocktesting.FakeClock) controller.Options {
	return controller.Options{Clock: fc, Rand: rand.New(rand.NewPCG(1, 2))}
}

// countingRenewer counts renewals and optionally fails them.
type countingRenewer struct {
	calls int
	err   error
}

func (c *countingRenewer) Renew(_ context.Context) error {
	c.calls++
	return c.err
}

// statusSequence returns the given statuses in order and repeats the last one.
type statusSequence struct {
	statuses []string
	calls    int
	err      error
}

func (s *statusSequence) status(_ context.Context) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	if len(s.statuses) == 0 {
		return "", nil
	}
	return s.statuses[min(s.calls-1, len(s.statuses)-1)], nil
}

// listerFunc adapts a func to controller.FCPDiskLister.
type listerFunc func(ctx context.Context, busID string) (*v1alpha1.FCPDiskList, error)

func (f listerFunc) FCPDisks(ctx context.Context, busID string) (*v1alpha1.FCPDiskList, error) {
	return f(ctx, busID)
}

func fcpList(udid string, paths ...v1alpha1.FCPPath) *v1alpha1.FCPDiskList {
	return &v1alpha1.FCPDiskList{Instances: []v1alpha1.FCPInstance{{ID: udid, Status: v1alpha1.PathFree, Paths: paths}}}
}

func activePath(target, lun string) v1alpha1.FCPPath {
	return v1alpha1.FCPPath{Target: target, LUN: lun, Status: v1alpha1.PathActive}
}

type triggerResponse struct {
	code   int
	status string
}

// fakeAppliance serves the subset of the appliance REST API used by the controller.
type fakeAppliance struct {
	t  *testing.T
	mu sync.Mutex

	name             string
	version          string
	physicalServer   string
	virtualServer    string
	licenseAccepted  bool
	applianceCodes   []int
	operationalCodes []int
	accelerator      []string
	server           []string
	fcp              v1alpha1.FCPDiskList
	eckd             v1alpha1.StorageDeviceList
	validation       v1alpha1.ValidationResponse
	triggerResponses []triggerResponse

	tokens             int
	applianceCalls     int
	operationalCalls   int
	acceleratorCalls   int
	serverCalls        int
	licensePuts        int
	discoveryTriggers  int
	switches           int
	triggers           int
	triggerPaths       []string
	selects            []v1alpha1.SelectParameters
	uploadQuery        url.Values
	uploadBody         string
	uploadContentType  string
	lastAuthorization  string
	unexpectedRequests []string
}

func pick[T any](seq []T, call int, def T) T {
	if len(seq) == 0 {
		return def
	}
	return seq[min(call-1, len(seq)-1)]
}

func (f *fakeAppliance) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", zaci.MediaType)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		f.t.Errorf("encode response: %v", err)
	}
}

func (f *fakeAppliance) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path != zaci.PathAPITokens && r.URL.Path != "/" {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer token-") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.lastAuthorization = auth
	}

	switch key := r.Method + " " + r.URL.Path; key {
	case "POST " + zaci.PathAPITokens:
		var in struct {
			Parameters v1alpha1.TokenParameters `json:"parameters"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Parameters.Password != testPassword {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.tokens++
		f.writeJSON(w, map[string]any{"kind": "response", "parameters": map[string]string{"token": fmt.Sprintf("token-%d", f.tokens)}})
	case "GET /":
		w.WriteHeader(http.StatusOK)
	case "GET " + zaci.PathAppliance:
		f.applianceCalls++
		if code := pick(f.applianceCodes, f.applianceCalls, http.StatusOK); code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		f.writeJSON(w, v1alpha1.ApplianceResponse{Properties: v1alpha1.ApplianceProperties{
			Name:               f.name,
			Version:            f.version,
			PhysicalServerName: f.physicalServer,
			VirtualServerName:  f.virtualServer,
		}})
	case "GET " + zaci.PathSoftwareLicense:
		out := v1alpha1.LicenseResponse{}
		out.Properties.Accepted = f.licenseAccepted
		f.writeJSON(w, out)
	case "PUT " + zaci.PathSoftwareLicense:
		f.licensePuts++
		f.licenseAccepted = true
		w.WriteHeader(http.StatusOK)
	case "GET " + zaci.PathApplianceOperation:
		f.operationalCalls++
		w.WriteHeader(pick(f.operationalCodes, f.operationalCalls, http.StatusNoContent))
	case "GET " + zaci.PathAcceleratorStatus:
		f.acceleratorCalls++
		f.writeJSON(w, v1alpha1.ComponentStatus{Status: pick(f.accelerator, f.acceleratorCalls, "UNKNOWN")})
	case "GET " + zaci.PathServerStatus:
		f.serverCalls++
		f.writeJSON(w, v1alpha1.ComponentStatus{Status: pick(f.server, f.serverCalls, "UNKNOWN")})
	case "GET " + zaci.PathFCPDisks:
		if r.URL.Query().Get("status") != string(v1alpha1.PathFree) {
			f.discoveryTriggers++
			f.writeJSON(w, map[string]any{})
			return
		}
		f.writeJSON(w, f.fcp)
	case "GET " + zaci.PathStorageDevices:
		f.writeJSON(w, f.eckd)
	case "POST " + zaci.PathInstall:
		b, _ := io.ReadAll(r.Body)
		f.uploadQuery = r.URL.Query()
		f.uploadBody = string(b)
		f.uploadContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	case "PUT " + zaci.PathSelect:
		var in struct {
			Parameters v1alpha1.SelectParameters `json:"parameters"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			f.t.Errorf("decode select body: %v", err)
		}
		f.selects = append(f.selects, in.Parameters)
		w.WriteHeader(http.StatusAccepted)
	case "POST " + zaci.PathSwitchToInstaller:
		f.switches++
		f.name = v1alpha1.InstallerApplianceName
		w.WriteHeader(http.StatusAccepted)
	case "PUT " + zaci.PathValidateConfig:
		f.writeJSON(w, f.validation)
	case "PUT " + zaci.PathConfiguration, "PUT " + zaci.PathCompleteUpdate:
		f.triggers++
		f.triggerPaths = append(f.triggerPaths, r.URL.Path)
		resp := pick(f.triggerResponses, f.triggers, triggerResponse{code: http.StatusOK, status: v1alpha1.TriggeredStatus})
		if resp.code != http.StatusOK {
			w.WriteHeader(resp.code)
			return
		}
		f.writeJSON(w, v1alpha1.TriggerResponse{Status: resp.status})
	default:
		f.unexpectedRequests = append(f.unexpectedRequests, key)
		w.WriteHeader(http.StatusNotFound)
	}
}

// settle orders the writes of finished handlers before the reads of the test, and the
// writes of the test before the next handler, so the race detector sees the ordering.
func (f *fakeAppliance) settle() {
	f.mu.Lock()
	defer f.mu.Unlock()
}

// newTestAppliance serves f and returns an Appliance with an issued session against it.
func newTestAppliance(t *testing.T, f *fakeAppliance, fc *clocktesting.FakeClock) (*controller.Appliance, *httptest.Server) {
	t.Helper()
	f.t = t
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	t.Cleanup(func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if len(f.unexpectedRequests) > 0 {
			t.Errorf("unexpected requests: %v", f.unexpectedRequests)
		}
	})

	s, err := controller.Issue(context.Background(), zaci.NewClient(srv.URL), "admin", testPassword, logr.Discard())
	if err != nil {
		t.Fatalf("expected nil err, got: %v", err)
	}

	return controller.NewAppliance(s, logr.Discard(), testOptions(fc)), srv
}

// mapLicenseStore is an in-memory controller.LicenseStore.
type mapLicenseStore map[string]bool

func (m mapLicenseStore) Accepted(version string) (bool, error) {
	if version == "" {
		return false, errors.New("empty version")
	}
	return m[version], nil
}
