// Copyright (c) The localcloud Authors
// SPDX-License-Identifier: MPL-2.0

package core

// Scope identifies which slice of simulation state a request operates
// on. The edge fills it from the request's SigV4 credential scope.
type Scope struct {
	AccountID string
	Region    string
	Service   string
}
