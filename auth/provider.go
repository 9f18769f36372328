package auth

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/dormoron/polyel/internal/errs"
)

// MemoryProvider 把用户保存在内存中，适合测试与小型应用
type MemoryProvider struct {
	mu    sync.RWMutex
	users map[string]GenericUser
}

func NewMemoryProvider(users ...GenericUser) *MemoryProvider {
	p := &MemoryProvider{users: make(map[string]GenericUser, len(users))}
	for _, u := range users {
		p.Add(u)
	}
	return p
}

// Add 添加或替换用户，user 必须带 id 字段
func (p *MemoryProvider) Add(user GenericUser) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[user.AuthID()] = user
}

func (p *MemoryProvider) RetrieveByID(_ context.Context, id string) (User, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.users[id]
	if !ok {
		return nil, errs.ErrUserNotFound()
	}
	return u, nil
}

func (p *MemoryProvider) RetrieveByCredentials(_ context.Context, creds Credentials) (User, error) {
	if !searchable(creds) {
		return nil, errs.ErrInvalidCredentials()
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, u := range p.users {
		if matches(u, creds) {
			return u, nil
		}
	}
	return nil, errs.ErrUserNotFound()
}

func matches(u GenericUser, creds Credentials) bool {
	for k, v := range creds {
		if k == FieldPassword {
			continue
		}
		if u[k] != v {
			return false
		}
	}
	return true
}

// searchable 凭据中至少要有一个 password 之外的字段
func searchable(creds Credentials) bool {
	for k := range creds {
		if k != FieldPassword {
			return true
		}
	}
	return false
}

// Placeholder 是 SQL 占位符风格
type Placeholder uint8

const (
	// PlaceholderQuestion mysql、sqlite 使用 ?
	PlaceholderQuestion Placeholder = iota
	// PlaceholderDollar postgres 使用 $1, $2
	PlaceholderDollar
)

// PlaceholderFor 按 database/sql 驱动名选择占位符
func PlaceholderFor(driver string) Placeholder {
	switch driver {
	case "postgres", "pgx":
		return PlaceholderDollar
	default:
		return PlaceholderQuestion
	}
}

var identRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLProvider 从数据库表中查找用户，整行映射为 GenericUser
type SQLProvider struct {
	db          *sql.DB
	table       string
	placeholder Placeholder
	// Conditions 是附加的查询条件，例如 {"active": "1"}
	Conditions map[string]string
}

func NewSQLProvider(db *sql.DB, table string, placeholder Placeholder) (*SQLProvider, error) {
	if !identRegexp.MatchString(table) {
		return nil, fmt.Errorf("auth: 非法的表名 %q", table)
	}
	return &SQLProvider{db: db, table: table, placeholder: placeholder}, nil
}

func (p *SQLProvider) RetrieveByID(ctx context.Context, id string) (User, error) {
	return p.first(ctx, map[string]string{FieldID: id})
}

func (p *SQLProvider) RetrieveByCredentials(ctx context.Context, creds Credentials) (User, error) {
	if !searchable(creds) {
		return nil, errs.ErrInvalidCredentials()
	}
	where := make(map[string]string, len(creds)+len(p.Conditions))
	for k, v := range creds {
		if k != FieldPassword {
			where[k] = v
		}
	}
	for k, v := range p.Conditions {
		where[k] = v
	}
	return p.first(ctx, where)
}

func (p *SQLProvider) first(ctx context.Context, where map[string]string) (User, error) {
	query, args, err := p.buildQuery(where)
	if err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err = rows.Err(); err != nil {
			return nil, err
		}
		return nil, errs.ErrUserNotFound()
	}
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	vals := make([]sql.NullString, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err = rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	user := make(GenericUser, len(cols))
	for i, col := range cols {
		if vals[i].Valid {
			user[col] = vals[i].String
		}
	}
	return user, nil
}

func (p *SQLProvider) buildQuery(where map[string]string) (string, []any, error) {
	keys := make([]string, 0, len(where))
	for k := range where {
		if !identRegexp.MatchString(k) {
			return "", nil, fmt.Errorf("auth: 非法的字段名 %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("SELECT * FROM ")
	sb.WriteString(p.table)
	args := make([]any, 0, len(keys))
	for i, k := range keys {
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		sb.WriteString(k)
		sb.WriteString(" = ")
		if p.placeholder == PlaceholderDollar {
			fmt.Fprintf(&sb, "$%d", i+1)
		} else {
			sb.WriteString("?")
		}
		args = append(args, where[k])
	}
	sb.WriteString(" LIMIT 1")
	return sb.String(), args, nil
}
