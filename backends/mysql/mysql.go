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

// Package mysql provides the MySQL backend.
package mysql

import (
	"fmt"

	_ "github.com/go-sql-driver/mysql" // register database/sql driver
	"go.uber.org/zap"

	"github.com/omnistore/omnistore/backends"
	"github.com/omnistore/omnistore/backends/sqlcore"
)

// Name is the backend kind name this package registers.
const Name = "mysql"

// dialect is the MySQL flavor of the document-table model.
var dialect = sqlcore.Dialect{
	DriverName: "mysql",
	QuoteIdent: func(name string) string {
		return fmt.Sprintf("`%s`", name)
	},
	CreateTableSQL: func(quotedTable string) string {
		return fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s (id VARCHAR(255) PRIMARY KEY, doc JSON NOT NULL)`,
			quotedTable,
		)
	},
}

// driver implements backends.Driver interface.
type driver struct{}

// Name implements backends.Driver interface.
func (driver) Name() string { return Name }

// SwitchesSubResources implements backends.Driver interface.
func (driver) SwitchesSubResources() bool { return true }

// Open implements backends.Driver interface.
func (driver) Open(cfg backends.Config, l *zap.Logger) (backends.Backend, error) {
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
	backends.Register(driver{})
}

// check interfaces
var (
	_ backends.Driver = driver{}
)
