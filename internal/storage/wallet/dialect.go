package wallet

import (
	stdErrors "errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// dialect 屏蔽不同数据库驱动的差异：驱动名、占位符与主键冲突判断。
type dialect struct {
	name        string
	driver      string
	numbered    bool
	isDuplicate func(error) bool
}

var dialects = map[string]dialect{
	"mysql": {
		name:   "mysql",
		driver: "mysql",
		isDuplicate: func(err error) bool {
			var mysqlErr *mysql.MySQLError
			return stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062
		},
	},
	"sqlite": {
		name:   "sqlite",
		driver: "sqlite",
		isDuplicate: func(err error) bool {
			var sqliteErr *sqlite.Error
			if !stdErrors.As(err, &sqliteErr) {
				return false
			}
			code := sqliteErr.Code()
			return code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE
		},
	},
	"postgres": {
		name:     "postgres",
		driver:   "pgx",
		numbered: true,
		isDuplicate: func(err error) bool {
			var pgErr *pgconn.PgError
			return stdErrors.As(err, &pgErr) && pgErr.Code == "23505"
		},
	},
}

func lookupDialect(name string) (dialect, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	switch key {
	case "postgresql", "pgx":
		key = "postgres"
	case "sqlite3":
		key = "sqlite"
	}
	d, ok := dialects[key]
	if !ok {
		return dialect{}, fmt.Errorf("不支持的钱包存储驱动 %q", name)
	}
	return d, nil
}

// rebind 将 ? 占位符改写为目标方言的格式。
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
