package repository

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"unicode"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/domain"
)

// sqlToken es un token léxico de una sentencia SQL.
type sqlToken struct {
	kind  tokenKind
	value string // en minúsculas para identificadores y keywords
}

type tokenKind int

const (
	tokenIdent tokenKind = iota
	tokenString
	tokenNumber
	tokenPunct
	tokenParam // $1, $2, ...
)

// lexSQL tokeniza la sentencia saltando comentarios y strings. No es un parser
// completo de SQL: reconoce la estructura de cláusulas suficiente para la
// guarda de alcance por usuario, sin depender de regex sobre texto crudo.
func lexSQL(query string) []sqlToken {
	var tokens []sqlToken
	i := 0
	n := len(query)
	for i < n {
		ch := query[i]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			i++
		case ch == '-' && i+1 < n && query[i+1] == '-':
			for i < n && query[i] != '\n' {
				i++
			}
		case ch == '/' && i+1 < n && query[i+1] == '*':
			i += 2
			for i+1 < n && !(query[i] == '*' && query[i+1] == '/') {
				i++
			}
			i += 2
		case ch == '\'':
			i++
			start := i
			for i < n {
				if query[i] == '\'' {
					if i+1 < n && query[i+1] == '\'' {
						i += 2
						continue
					}
					break
				}
				i++
			}
			tokens = append(tokens, sqlToken{kind: tokenString, value: query[start:min(i, n)]})
			i++
		case ch == '"':
			i++
			start := i
			for i < n && query[i] != '"' {
				i++
			}
			tokens = append(tokens, sqlToken{kind: tokenIdent, value: strings.ToLower(query[start:min(i, n)])})
			i++
		case ch == '$':
			start := i
			i++
			for i < n && unicode.IsDigit(rune(query[i])) {
				i++
			}
			tokens = append(tokens, sqlToken{kind: tokenParam, value: query[start:i]})
		case isIdentStart(ch):
			start := i
			for i < n && isIdentPart(query[i]) {
				i++
			}
			tokens = append(tokens, sqlToken{kind: tokenIdent, value: strings.ToLower(query[start:i])})
		case unicode.IsDigit(rune(ch)):
			start := i
			for i < n && (unicode.IsDigit(rune(query[i])) || query[i] == '.') {
				i++
			}
			tokens = append(tokens, sqlToken{kind: tokenNumber, value: query[start:i]})
		default:
			tokens = append(tokens, sqlToken{kind: tokenPunct, value: string(ch)})
			i++
		}
	}
	return tokens
}

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || (ch >= '0' && ch <= '9') || ch == '.'
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// VerifyUserScoped comprueba que la sentencia lleva un predicado user_id.
// SELECT/UPDATE/DELETE requieren `user_id =` o `user_id IN` en su WHERE;
// INSERT requiere la columna user_id en la lista de columnas. Las sentencias
// que no cumplen se rechazan con ErrSecurity; aquí no se reescribe nada.
func VerifyUserScoped(query string) error {
	tokens := lexSQL(query)
	if len(tokens) == 0 {
		return fmt.Errorf("%w: empty statement", domain.ErrSecurity)
	}

	// Saltar CTEs: la verificación aplica a la sentencia exterior, y un WHERE
	// dentro del WITH también cuenta como predicado de alcance.
	head := tokens[0].value
	if head == "with" {
		for _, t := range tokens {
			if t.kind == tokenIdent {
				switch t.value {
				case "select", "update", "delete", "insert":
					head = t.value
				}
			}
		}
	}

	switch head {
	case "insert":
		if insertHasUserColumn(tokens) {
			return nil
		}
		return fmt.Errorf("%w: insert without user_id column", domain.ErrSecurity)
	case "select", "update", "delete":
		if whereHasUserPredicate(tokens) {
			return nil
		}
		return fmt.Errorf("%w: %s without user_id predicate", domain.ErrSecurity, head)
	default:
		return fmt.Errorf("%w: unsupported user-scoped statement %q", domain.ErrSecurity, head)
	}
}

// insertHasUserColumn busca user_id dentro de la lista de columnas del INSERT.
func insertHasUserColumn(tokens []sqlToken) bool {
	depth := 0
	inColumns := false
	for i, t := range tokens {
		if t.kind == tokenPunct {
			switch t.value {
			case "(":
				depth++
				if depth == 1 && !inColumns && i > 0 {
					inColumns = true
				}
			case ")":
				if depth == 1 && inColumns {
					return false
				}
				depth--
			}
			continue
		}
		if t.kind == tokenIdent {
			if inColumns && depth >= 1 && columnName(t.value) == "user_id" {
				return true
			}
			// VALUES cierra la lista de columnas.
			if t.value == "values" || t.value == "select" {
				inColumns = false
			}
		}
	}
	return false
}

// whereHasUserPredicate recorre los tokens posteriores a un WHERE buscando
// `user_id =` o `user_id IN`, con soporte para identificadores calificados.
func whereHasUserPredicate(tokens []sqlToken) bool {
	inWhere := false
	for i := 0; i < len(tokens); i++ {
		t := tokens[i]
		if t.kind == tokenIdent {
			switch t.value {
			case "where":
				inWhere = true
				continue
			case "group", "order", "limit", "returning":
				inWhere = false
				continue
			}
		}
		if !inWhere || t.kind != tokenIdent {
			continue
		}
		if columnName(t.value) != "user_id" {
			continue
		}
		// Mirar el siguiente token significativo.
		if i+1 < len(tokens) {
			next := tokens[i+1]
			if next.kind == tokenPunct && next.value == "=" {
				return true
			}
			if next.kind == tokenIdent && next.value == "in" {
				return true
			}
		}
	}
	return false
}

// columnName quita el calificador de tabla (t.user_id -> user_id).
func columnName(ident string) string {
	if idx := strings.LastIndexByte(ident, '.'); idx >= 0 {
		return ident[idx+1:]
	}
	return ident
}

// dbtx abstrae pgxpool.Pool para poder probar la guarda sin base de datos.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Guard es el camino obligatorio para SQL de alcance por usuario. El camino
// admin existe aparte y registra una advertencia en cada invocación.
type Guard struct {
	pool   dbtx
	logger *zap.Logger
}

// NewGuard construye la guarda sobre un pool pgx.
func NewGuard(pool dbtx, logger *zap.Logger) *Guard {
	return &Guard{pool: pool, logger: logger}
}

// storeUnavailable distingue la base caída de un error de datos: fallas de
// red, timeouts y los errores que pgx marca como previos al wire (reintentables)
// cuentan como indisponibilidad.
func storeUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return pgconn.SafeToRetry(err)
}

// translateErr envuelve las fallas de conexión en ErrServiceUnavailable para
// que la capa HTTP responda 503; los errores de datos pasan intactos.
func translateErr(err error) error {
	if storeUnavailable(err) {
		return fmt.Errorf("%w: %v", domain.ErrServiceUnavailable, err)
	}
	return err
}

// Exec ejecuta una sentencia de alcance por usuario.
func (g *Guard) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if err := VerifyUserScoped(sql); err != nil {
		return pgconn.CommandTag{}, err
	}
	tag, err := g.pool.Exec(ctx, sql, args...)
	return tag, translateErr(err)
}

// Query ejecuta una consulta de alcance por usuario.
func (g *Guard) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if err := VerifyUserScoped(sql); err != nil {
		return nil, err
	}
	rows, err := g.pool.Query(ctx, sql, args...)
	return rows, translateErr(err)
}

// QueryRow ejecuta una consulta de fila única de alcance por usuario.
// La verificación falla en Scan a través de errRow para mantener la firma pgx.
func (g *Guard) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if err := VerifyUserScoped(sql); err != nil {
		return errRow{err: err}
	}
	return translatingRow{row: g.pool.QueryRow(ctx, sql, args...)}
}

// ExecAdmin es el camino explícito para operaciones cruzadas entre usuarios.
func (g *Guard) ExecAdmin(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if g.logger != nil {
		g.logger.Warn("admin query path used", zap.String("statement_head", statementHead(sql)))
	}
	tag, err := g.pool.Exec(ctx, sql, args...)
	return tag, translateErr(err)
}

// QueryAdmin es el camino explícito de lectura para operaciones admin.
func (g *Guard) QueryAdmin(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if g.logger != nil {
		g.logger.Warn("admin query path used", zap.String("statement_head", statementHead(sql)))
	}
	rows, err := g.pool.Query(ctx, sql, args...)
	return rows, translateErr(err)
}

// QueryRowAdmin es el camino explícito de fila única para operaciones admin.
func (g *Guard) QueryRowAdmin(ctx context.Context, sql string, args ...any) pgx.Row {
	if g.logger != nil {
		g.logger.Warn("admin query path used", zap.String("statement_head", statementHead(sql)))
	}
	return translatingRow{row: g.pool.QueryRow(ctx, sql, args...)}
}

func statementHead(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

type errRow struct{ err error }

func (r errRow) Scan(_ ...any) error { return r.err }

// translatingRow aplica translateErr al error de Scan de la fila subyacente.
type translatingRow struct{ row pgx.Row }

func (r translatingRow) Scan(dest ...any) error { return translateErr(r.row.Scan(dest...)) }
