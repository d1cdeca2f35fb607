// Package all registers every input cache backend.
package all

import (
	_ "feedinput/internal/inputcache/mssql"
	_ "feedinput/internal/inputcache/postgres"
	_ "feedinput/internal/inputcache/sqlite"
)
