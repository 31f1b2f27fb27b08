// Copyright 2024 Omnistore Authors
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

// Package hana provides the SAP HANA backend.
package hana

import (
	"errors"
	"fmt"

	"github.com/SAP/go-hdb/driver" // registers the "hdb" database/sql driver
	"go.uber.org/zap"

	"github.com/omnistore/omnistore/backends"
	"github.com/omnistore/omnistore/backends/sqlcore"
)

// Name is the backend kind name this package registers.
const Name = "hana"

// hdbErrDuplicateTableName is the HANA error code for "cannot use duplicate table name".
const hdbErrDuplicateTableName = 288

// dialect is the HANA flavor of the document-table model.
//
// HANA has no CREATE TABLE IF NOT EXISTS; the duplicate-name error is treated as success.
var dialect = sqlcore.Dialect{
	DriverName: driver.DriverName,
	QuoteIdent: func(name string) string {
		return fmt.Sprintf("%q", name)
	},
	CreateTableSQL: func(quotedTable string) string {
		return fmt.Sprintf(`CREATE TABLE %s (id NVARCHAR(255) PRIMARY KEY, doc NCLOB)`, quotedTable)
	},
	TableExistsErr: func(err error) bool {
		var dbErr driver.Error
		if errors.As(err, &dbErr) {
			return dbErr.Code() == hdbErrDuplicateTableName
		}

		return false
	},
}

// backendDriver implements backends.Driver interface.
type backendDriver struct{}

// Name implements backends.Driver interface.
func (backendDriver) Name() string { return Name }

// SwitchesSubResources implements backends.Driver interface.
func (backendDriver) SwitchesSubResources() bool { return true }

// Open implements backends.Driver interface.
func (backendDriver) Open(cfg backends.Config, l *zap.Logger) (backends.Backend, error) {
	dsn, err := sqlcore.DSNFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	return sqlcore.New(&sqlcore.NewParams{
		Dialect: dialect,
		DSN:     dsn,
		Table:   backends.SubResourceName(cfg),
		L:       l.Named(Name),
	})
}

func init() {
	backends.Register(backendDriver{})
}

// check interfaces
var (
	_ backends.Driver = backendDriver{}
)
