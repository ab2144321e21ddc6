package patient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/medregistry/registry/internal/domain/audit"
	"github.com/medregistry/registry/internal/platform/phi"
)

// fakeStore emulates the patient table at the statement level: rows hold the
// values exactly as the store persists them, so sealed columns stay sealed.
type fakeStore struct {
	rows        map[uuid.UUID]*storedRow
	byMRN       map[string]uuid.UUID
	insertTries int
	failInserts int // next N inserts answer with a unique violation
}

type storedRow struct {
	id                               uuid.UUID
	mrn, firstName, lastName, sex    string
	dob                              time.Time
	phone, email                     *string
	addr, city, postal, country      string
	version                          int
	createdAt, updatedAt             time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rows:  make(map[uuid.UUID]*storedRow),
		byMRN: make(map[string]uuid.UUID),
	}
}

type scanFunc func(dest ...interface{}) error

func (f scanFunc) Scan(dest ...interface{}) error { return f(dest...) }

func (f *fakeStore) QueryRow(_ context.Context, sql string, args ...interface{}) pgx.Row {
	switch {
	case strings.Contains(sql, "SELECT COALESCE(MAX"):
		prefix := strings.TrimSuffix(args[0].(string), "%")
		max := 0
		for mrn := range f.byMRN {
			if !strings.HasPrefix(mrn, prefix) {
				continue
			}
			if n, err := strconv.Atoi(mrn[len(prefix):]); err == nil && n > max {
				max = n
			}
		}
		return scanFunc(func(dest ...interface{}) error {
			*dest[0].(*int) = max
			return nil
		})

	case strings.Contains(sql, "INSERT INTO patient"):
		f.insertTries++
		if f.failInserts > 0 {
			f.failInserts--
			return scanFunc(func(...interface{}) error {
				return &pgconn.PgError{Code: "23505", ConstraintName: "idx_patient_mrn"}
			})
		}
		mrn := args[1].(string)
		if _, dup := f.byMRN[mrn]; dup {
			return scanFunc(func(...interface{}) error {
				return &pgconn.PgError{Code: "23505", ConstraintName: "idx_patient_mrn"}
			})
		}
		now := time.Now().UTC()
		row := &storedRow{
			id:        args[0].(uuid.UUID),
			mrn:       mrn,
			firstName: args[2].(string),
			lastName:  args[3].(string),
			dob:       args[4].(time.Time),
			sex:       args[5].(string),
			phone:     args[6].(*string),
			email:     args[7].(*string),
			addr:      args[8].(string),
			city:      args[9].(string),
			postal:    args[10].(string),
			country:   args[11].(string),
			version:   1,
			createdAt: now,
			updatedAt: now,
		}
		f.rows[row.id] = row
		f.byMRN[mrn] = row.id
		return scanFunc(func(dest ...interface{}) error {
			*dest[0].(*int) = row.version
			*dest[1].(*time.Time) = row.createdAt
			*dest[2].(*time.Time) = row.updatedAt
			return nil
		})

	case strings.Contains(sql, "FROM patient WHERE id ="):
		row, ok := f.rows[args[0].(uuid.UUID)]
		if !ok {
			return scanFunc(func(...interface{}) error { return pgx.ErrNoRows })
		}
		return scanFunc(func(dest ...interface{}) error {
			*dest[0].(*uuid.UUID) = row.id
			*dest[1].(*string) = row.mrn
			*dest[2].(*string) = row.firstName
			*dest[3].(*string) = row.lastName
			*dest[4].(*time.Time) = row.dob
			*dest[5].(*string) = row.sex
			*dest[6].(**string) = row.phone
			*dest[7].(**string) = row.email
			*dest[8].(*string) = row.addr
			*dest[9].(*string) = row.city
			*dest[10].(*string) = row.postal
			*dest[11].(*string) = row.country
			*dest[12].(*int) = row.version
			*dest[13].(*time.Time) = row.createdAt
			*dest[14].(*time.Time) = row.updatedAt
			return nil
		})
	}

	return scanFunc(func(...interface{}) error {
		return fmt.Errorf("unexpected statement: %s", sql)
	})
}

func (f *fakeStore) Query(_ context.Context, sql string, _ ...interface{}) (pgx.Rows, error) {
	return nil, fmt.Errorf("unexpected statement: %s", sql)
}

func (f *fakeStore) Exec(_ context.Context, sql string, _ ...interface{}) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, fmt.Errorf("unexpected statement: %s", sql)
}

type fakeRecorder struct {
	entries []*audit.Entry
}

func (r *fakeRecorder) Append(_ context.Context, e *audit.Entry) error {
	r.entries = append(r.entries, e)
	return nil
}

func newStoreUnderTest(t *testing.T) (*repoPG, *fakeStore, *fakeRecorder) {
	t.Helper()
	codec, err := phi.NewCodec(bytes.Repeat([]byte{0x42}, 32))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	store := newFakeStore()
	sink := &fakeRecorder{}
	repo := &repoPG{
		q:         store,
		codec:     codec,
		sink:      sink,
		mrnPrefix: "HOS",
		runTx: func(ctx context.Context, fn func(ctx context.Context) error) error {
			return fn(ctx)
		},
	}
	return repo, store, sink
}

func newStorePatient() *Patient {
	return &Patient{
		FirstName: "Ann",
		LastName:  "Lee",
		DOB:       time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC),
		Sex:       "female",
		Phone:     "+12025550123",
		Email:     "",
	}
}

func TestStoreCreate_SealsAtRest(t *testing.T) {
	repo, store, sink := newStoreUnderTest(t)
	ctx := context.Background()

	p := newStorePatient()
	if err := repo.Create(ctx, p, testMeta()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantMRN := fmt.Sprintf("HOS-%d0001", time.Now().UTC().Year())
	if p.MRN != wantMRN {
		t.Errorf("first MRN of the year: got %q, want %q", p.MRN, wantMRN)
	}

	row, ok := store.rows[p.ID]
	if !ok {
		t.Fatal("row was not persisted")
	}
	if row.phone == nil {
		t.Fatal("phone was not persisted")
	}
	if *row.phone == "+12025550123" {
		t.Fatal("phone persisted in plaintext")
	}
	plain, err := repo.codec.Unseal(*row.phone)
	if err != nil || plain != "+12025550123" {
		t.Errorf("persisted phone does not unseal to the input: %q, %v", plain, err)
	}
	if row.email != nil {
		t.Error("absent email must be persisted as NULL, not a sealed empty string")
	}

	// Round trip: the read path unseals back to the original input.
	got, err := repo.GetByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Phone != "+12025550123" || got.Email != "" {
		t.Errorf("round trip mismatch: phone=%q email=%q", got.Phone, got.Email)
	}

	if len(sink.entries) != 1 || sink.entries[0].Action != audit.ActionCreatePatient {
		t.Errorf("expected one create audit entry, got %+v", sink.entries)
	}
}

func TestStoreCreate_RetriesToDistinctMRN(t *testing.T) {
	repo, store, _ := newStoreUnderTest(t)
	ctx := context.Background()

	// The first insert loses the allocation race; the retry must succeed.
	store.failInserts = 1
	p := newStorePatient()
	if err := repo.Create(ctx, p, testMeta()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.insertTries != 2 {
		t.Errorf("expected 2 insert attempts, got %d", store.insertTries)
	}
	if len(store.rows) != 1 {
		t.Errorf("expected exactly one persisted row, got %d", len(store.rows))
	}

	// A second create allocates the next sequence, never a duplicate.
	p2 := newStorePatient()
	if err := repo.Create(ctx, p2, testMeta()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p2.MRN == p.MRN {
		t.Errorf("duplicate MRN %q across creates", p2.MRN)
	}
}

func TestStoreCreate_RetryExhaustion(t *testing.T) {
	repo, store, sink := newStoreUnderTest(t)
	ctx := context.Background()

	store.failInserts = mrnRetries
	err := repo.Create(ctx, newStorePatient(), testMeta())
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict after %d collisions, got %v", mrnRetries, err)
	}
	if store.insertTries != mrnRetries {
		t.Errorf("expected %d attempts, got %d", mrnRetries, store.insertTries)
	}
	if len(store.rows) != 0 {
		t.Error("no row may survive an exhausted create")
	}
	if len(sink.entries) != 0 {
		t.Error("no audit entry may survive an exhausted create")
	}
}

func TestStoreGetByID_NotFound(t *testing.T) {
	repo, _, _ := newStoreUnderTest(t)
	if _, err := repo.GetByID(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestBuildSet_ResealsSensitiveFields(t *testing.T) {
	repo, _, _ := newStoreUnderTest(t)

	phone := "+12025550199"
	city := "Springfield"
	set, args, err := repo.buildSet(uuid.New(), UpdateInput{Phone: &phone, City: &city})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// args[0] is the row id; phone is the first change, city the second.
	sealed, ok := args[1].(*string)
	if !ok || sealed == nil {
		t.Fatalf("expected a sealed phone argument, got %T", args[1])
	}
	if *sealed == phone {
		t.Fatal("phone written in plaintext")
	}
	plain, err := repo.codec.Unseal(*sealed)
	if err != nil || plain != phone {
		t.Errorf("sealed phone does not unseal to the input: %q, %v", plain, err)
	}
	if got := args[2].(string); got != city {
		t.Errorf("city must be written verbatim, got %q", got)
	}

	joined := strings.Join(set, ", ")
	if !strings.Contains(joined, "version = version + 1") {
		t.Error("update must bump the version counter")
	}
	if !strings.Contains(joined, "updated_at = clock_timestamp()") {
		t.Error("update must advance the modification timestamp")
	}
}

func TestBuildSet_ClearedSensitiveFieldStoresNull(t *testing.T) {
	repo, _, _ := newStoreUnderTest(t)

	empty := ""
	_, args, err := repo.buildSet(uuid.New(), UpdateInput{Email: &empty})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if args[1] != (*string)(nil) {
		t.Errorf("cleared email must be written as NULL, got %#v", args[1])
	}
}
