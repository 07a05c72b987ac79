// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import "errors"

// Sentinel errors shared by every store implementation. Callers match them
// with errors.Is; implementations wrap them with context.
var (
	ErrNotFound            = errors.New("record not found")
	ErrInvalidQuery        = errors.New("invalid query parameters")
	ErrStorageClosed       = errors.New("storage is closed")
	ErrTransactionFailed   = errors.New("transaction failed after repeated conflicts")
	ErrSerializationFailed = errors.New("record encoding failed")
	ErrTruncatedData       = errors.New("record is truncated")
	ErrUnsupportedVersion  = errors.New("record written by a newer codec version")
)
