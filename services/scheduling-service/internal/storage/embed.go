package storage

import "embed"

//go:embed migrations/*.sql
var Migrations embed.FS

const MigrationsDir = "migrations"

// VersionTable is this service's goose version table.
const VersionTable = "scheduling_schema_migrations"
