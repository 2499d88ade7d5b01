/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package db

import "errors"

var (

	// Pool construction.

	ErrPostgresConfigRequired = errors.New("postgres configuration is required")
	ErrTLSModeDisabled        = errors.New("client TLS material is configured but sslmode is disable")
	ErrTLSMaterialIncomplete  = errors.New("db tls: cert_file and key_file are required")
	ErrTLSInvalidCACert       = errors.New("db tls: unable to append CA certificate")

	// Migrations.

	ErrMigrationPoolRequired = errors.New("migrations require an initialized pool")
)
