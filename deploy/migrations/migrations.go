package migrations

import "embed"

// Files 暴露钱包存储的 SQL 迁移文件，语法限定在 MySQL、SQLite 与 PostgreSQL 的公共子集。
//
//go:embed *.sql
var Files embed.FS
