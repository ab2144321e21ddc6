package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medregistry/registry/internal/domain/audit"
	"github.com/medregistry/registry/internal/platform/db"
	"github.com/medregistry/registry/internal/platform/phi"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct {
	q         queryable
	codec     *phi.Codec
	sink      audit.Recorder
	mrnPrefix string
	runTx     func(ctx context.Context, fn func(ctx context.Context) error) error
}

// NewRepoPG creates the Postgres patient store. The codec seals phone and
// email around every statement; the audit sink is written inside the same
// transaction as the mutation it describes.
func NewRepoPG(pool *pgxpool.Pool, codec *phi.Codec, sink audit.Recorder, mrnPrefix string) Repository {
	return &repoPG{
		q:         pool,
		codec:     codec,
		sink:      sink,
		mrnPrefix: mrnPrefix,
		runTx: func(ctx context.Context, fn func(ctx context.Context) error) error {
			return db.RunInTx(ctx, pool, fn)
		},
	}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.q
}

const patientCols = `id, mrn, first_name, last_name, dob, sex, phone, email,
	address_line1, city, postal_code, country_code, version, created_at, updated_at`

// scanPatient reads a row with phone/email still sealed.
func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var phone, email *string
	err := row.Scan(&p.ID, &p.MRN, &p.FirstName, &p.LastName, &p.DOB, &p.Sex, &phone, &email,
		&p.AddressLine1, &p.City, &p.PostalCode, &p.CountryCode, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if phone != nil {
		p.Phone = *phone
	}
	if email != nil {
		p.Email = *email
	}
	return &p, nil
}

// unseal replaces the sealed phone/email on p with their plaintext.
func (r *repoPG) unseal(p *Patient) error {
	plain, err := r.codec.UnsealFields(phi.SensitiveFields{Phone: p.Phone, Email: p.Email})
	if err != nil {
		return err
	}
	p.Phone, p.Email = plain.Phone, plain.Email
	return nil
}

func (r *repoPG) Create(ctx context.Context, p *Patient, meta audit.Meta) error {
	for attempt := 0; attempt < mrnRetries; attempt++ {
		err := r.runTx(ctx, func(ctx context.Context) error {
			return r.createOnce(ctx, p, meta)
		})
		if err == nil {
			return nil
		}
		if isUniqueViolation(err) {
			// Concurrent create won the same sequence number; re-scan and retry.
			continue
		}
		return err
	}
	return fmt.Errorf("mrn allocation retries exhausted: %w", ErrConflict)
}

func (r *repoPG) createOnce(ctx context.Context, p *Patient, meta audit.Meta) error {
	conn := r.conn(ctx)

	prefix := yearPrefix(r.mrnPrefix, time.Now().UTC().Year())
	mrn, err := nextMRN(ctx, conn, prefix)
	if err != nil {
		return fmt.Errorf("patient create: %w", err)
	}

	sealed, err := r.codec.SealFields(phi.SensitiveFields{Phone: p.Phone, Email: p.Email})
	if err != nil {
		return fmt.Errorf("patient create: %w", err)
	}

	p.ID = uuid.New()
	p.MRN = mrn

	err = conn.QueryRow(ctx, `
		INSERT INTO patient (id, mrn, first_name, last_name, dob, sex, phone, email,
			address_line1, city, postal_code, country_code)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING version, created_at, updated_at`,
		p.ID, p.MRN, p.FirstName, p.LastName, p.DOB, p.Sex,
		nullIfEmpty(sealed.Phone), nullIfEmpty(sealed.Email),
		p.AddressLine1, p.City, p.PostalCode, p.CountryCode,
	).Scan(&p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("patient create: %w", err)
	}

	return r.sink.Append(ctx, &audit.Entry{
		Actor:     meta.Actor,
		Action:    audit.ActionCreatePatient,
		PatientID: p.ID,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Diff:      createDiff(p),
	})
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("patient get by id: %w", err)
	}
	if err := r.unseal(p); err != nil {
		return nil, fmt.Errorf("patient get by id: %w", err)
	}
	return p, nil
}

func (r *repoPG) Update(ctx context.Context, id uuid.UUID, changes UpdateInput, expectedToken string, meta audit.Meta) (*Patient, error) {
	if changes.IsEmpty() {
		// Nothing to write: verify the caller's token against the live row
		// and hand the record back as-is.
		cur, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		curToken, err := cur.Token()
		if err != nil {
			return nil, fmt.Errorf("patient update token: %w", err)
		}
		if curToken != expectedToken {
			return nil, ErrPreconditionFailed
		}
		return cur, nil
	}

	var updated *Patient
	err := r.runTx(ctx, func(ctx context.Context) error {
		conn := r.conn(ctx)

		// Row lock makes the fetch-compare-write sequence atomic per record
		// without serializable isolation.
		cur, err := scanPatient(conn.QueryRow(ctx,
			`SELECT `+patientCols+` FROM patient WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("patient update fetch: %w", err)
		}
		if err := r.unseal(cur); err != nil {
			return fmt.Errorf("patient update fetch: %w", err)
		}

		curToken, err := cur.Token()
		if err != nil {
			return fmt.Errorf("patient update token: %w", err)
		}
		if curToken != expectedToken {
			return ErrPreconditionFailed
		}

		set, args, err := r.buildSet(id, changes)
		if err != nil {
			return fmt.Errorf("patient update: %w", err)
		}

		updated, err = scanPatient(conn.QueryRow(ctx,
			`UPDATE patient SET `+strings.Join(set, ", ")+` WHERE id = $1 RETURNING `+patientCols,
			args...))
		if err != nil {
			return fmt.Errorf("patient update write: %w", err)
		}
		if err := r.unseal(updated); err != nil {
			return fmt.Errorf("patient update write: %w", err)
		}

		return r.sink.Append(ctx, &audit.Entry{
			Actor:     meta.Actor,
			Action:    audit.ActionUpdatePatient,
			PatientID: id,
			IP:        meta.IP,
			UserAgent: meta.UserAgent,
			Diff:      updateDiff(cur, updated),
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// buildSet maps the fixed updatable field set to SET clauses. Sensitive
// fields are re-sealed here; everything else is written verbatim. $1 is
// always the record id.
func (r *repoPG) buildSet(id uuid.UUID, changes UpdateInput) ([]string, []interface{}, error) {
	set := make([]string, 0, 10)
	args := []interface{}{id}

	add := func(col string, v interface{}) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if changes.FirstName != nil {
		add("first_name", *changes.FirstName)
	}
	if changes.LastName != nil {
		add("last_name", *changes.LastName)
	}
	if changes.Phone != nil {
		sealed, err := r.codec.Seal(*changes.Phone)
		if err != nil {
			return nil, nil, fmt.Errorf("seal phone: %w", err)
		}
		add("phone", nullIfEmpty(sealed))
	}
	if changes.Email != nil {
		sealed, err := r.codec.Seal(*changes.Email)
		if err != nil {
			return nil, nil, fmt.Errorf("seal email: %w", err)
		}
		add("email", nullIfEmpty(sealed))
	}
	if changes.AddressLine1 != nil {
		add("address_line1", *changes.AddressLine1)
	}
	if changes.City != nil {
		add("city", *changes.City)
	}
	if changes.PostalCode != nil {
		add("postal_code", *changes.PostalCode)
	}
	if changes.CountryCode != nil {
		add("country_code", *changes.CountryCode)
	}

	set = append(set, "version = version + 1", "updated_at = clock_timestamp()")
	return set, args, nil
}

func (r *repoPG) Search(ctx context.Context, q SearchQuery) (*SearchResult, error) {
	where := []string{"1=1"}
	args := []interface{}{}

	add := func(clause string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if q.Term != "" {
		add(`(LOWER(last_name) LIKE LOWER($%[1]d) OR mrn LIKE $%[1]d)`, "%"+q.Term+"%")
	}
	if q.MRN != "" {
		add(`mrn LIKE $%d`, "%"+q.MRN+"%")
	}
	if q.LastName != "" {
		add(`LOWER(last_name) LIKE LOWER($%d)`, "%"+q.LastName+"%")
	}
	if q.Cursor != nil {
		add(`id > $%d`, *q.Cursor)
	}

	// One extra row decides whether another page exists.
	args = append(args, q.Limit+1)
	query := `SELECT ` + patientCols + ` FROM patient WHERE ` + strings.Join(where, " AND ") +
		fmt.Sprintf(` ORDER BY id ASC LIMIT $%d`, len(args))

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("patient search: %w", err)
	}
	defer rows.Close()

	var patients []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("patient search scan: %w", err)
		}
		if err := r.unseal(p); err != nil {
			return nil, fmt.Errorf("patient search: %w", err)
		}
		patients = append(patients, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("patient search rows: %w", err)
	}

	result := &SearchResult{Patients: patients}
	if len(patients) > q.Limit {
		result.Patients = patients[:q.Limit]
		result.HasMore = true
		last := result.Patients[len(result.Patients)-1].ID
		result.NextCursor = &last
	}
	return result, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func createDiff(p *Patient) audit.Diff {
	d := audit.Diff{}
	setField := func(col, val string) {
		if val == "" {
			return
		}
		v := val
		d[col] = audit.Change{To: &v}
	}
	setField("mrn", p.MRN)
	setField("first_name", p.FirstName)
	setField("last_name", p.LastName)
	setField("dob", p.DOB.Format("2006-01-02"))
	setField("sex", p.Sex)
	setField("phone", p.Phone)
	setField("email", p.Email)
	setField("address_line1", p.AddressLine1)
	setField("city", p.City)
	setField("postal_code", p.PostalCode)
	setField("country_code", p.CountryCode)
	return d
}

func updateDiff(from, to *Patient) audit.Diff {
	d := audit.Diff{}
	changed := func(col, before, after string) {
		if before == after {
			return
		}
		b, a := before, after
		d[col] = audit.Change{From: &b, To: &a}
	}
	changed("first_name", from.FirstName, to.FirstName)
	changed("last_name", from.LastName, to.LastName)
	changed("phone", from.Phone, to.Phone)
	changed("email", from.Email, to.Email)
	changed("address_line1", from.AddressLine1, to.AddressLine1)
	changed("city", from.City, to.City)
	changed("postal_code", from.PostalCode, to.PostalCode)
	changed("country_code", from.CountryCode, to.CountryCode)
	return d
}
