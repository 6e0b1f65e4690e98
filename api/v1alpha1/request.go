/*
Copyright 2022 Tinkerbell.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package v1alpha1

import "encoding/json"

// KindRequest is the envelope kind of every request body sent to the appliance.
const KindRequest = "request"

// TriggeredStatus is the logical status of an accepted asynchronous operation.
const TriggeredStatus = "TRIGGERED"

// ValidationOK is the validation result of an accepted configuration.
const ValidationOK = "OK"

// Request is the kind/parameters envelope wrapping request bodies.
type Request struct {
	Kind       string `json:"kind"`
	Parameters any    `json:"parameters,omitempty"`
}

// NewRequest wraps parameters in a request envelope.
func NewRequest(parameters any) Request {
	return Request{Kind: KindRequest, Parameters: parameters}
}

// TokenParameters are the credentials exchanged for a bearer token.
type TokenParameters struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

// TokenResponse carries an issued bearer token.
type TokenResponse struct {
	Parameters struct {
		Token string `json:"token"`
	} `json:"parameters"`
}

// LicenseAcceptParameters accept the installed software license.
type LicenseAcceptParameters struct {
	Accept bool `json:"accept"`
}

// SetupParameters carry the accelerator configuration for first-time setup.
type SetupParameters struct {
	Configuration json.RawMessage `json:"configuration"`
	// Credentials are only used by multiple node deployments.
	// +optional
	Credentials json.RawMessage `json:"credentials"`
}

// CredentialsParameters carry the data node credentials of a cluster update.
type CredentialsParameters struct {
	Credentials json.RawMessage `json:"credentials"`
}

// TriggerResponse is returned by asynchronous trigger endpoints.
type TriggerResponse struct {
	Status string `json:"status"`
}

// ValidationResponse is returned by the configuration validation endpoint.
type ValidationResponse struct {
	Validation string   `json:"validation"`
	Message    []string `json:"message,omitempty"`
}

// FirstMessage returns the first validation message or an empty string.
func (v ValidationResponse) FirstMessage() string {
	if len(v.Message) == 0 {
		return ""
	}
	return v.Message[0]
}
