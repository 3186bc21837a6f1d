package irbis

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"bookcabinet/pkg/rfid"
)

// Mock is the in-memory connector used when IRBIS_MOCK is set and by the
// tests. It keeps the same record structure the real server serves: RDR
// reader records with fields 10/30/40/50 and IBIS catalogue records with
// 200/700/903/910.
type Mock struct {
	mu        sync.Mutex
	connected bool

	readersDB string
	booksDB   string

	databases map[string]map[int]*Record
	nextMFN   map[string]int
}

// NewMock returns a mock connector pre-seeded with the demo catalogue.
func NewMock(readersDB, booksDB string) *Mock {
	m := &Mock{
		readersDB: readersDB,
		booksDB:   booksDB,
		databases: map[string]map[int]*Record{
			readersDB: {},
			booksDB:   {},
		},
		nextMFN: map[string]int{readersDB: 1, booksDB: 1},
	}
	m.seed()
	return m
}

func (m *Mock) seed() {
	readers := []struct {
		name, card, category string
	}{
		{"^AIvanov^BIvan^GIvanovich", "CARD001", "reader"},
		{"^APetrova^BMaria^GSergeevna", "CARD002", "reader"},
		{"^ASidorova^BAnna^GVladimirovna", "ADMIN01", "librarian"},
		{"^AAdministrator^BSystem", "ADMIN99", "administrator"},
	}
	for _, r := range readers {
		rec := NewRecord()
		rec.AddField(FieldReaderName, r.name)
		rec.AddField(FieldReaderCard, r.card)
		rec.AddField(FieldCategory, r.category)
		m.addRecord(m.readersDB, rec)
	}

	books := []struct {
		title, author, shelfmark, inventory, bookRFID string
	}{
		{"^AWar and Peace", "^ATolstoy^BL.N.", "R2", "00001", "BOOK001"},
		{"^AThe Master and Margarita", "^ABulgakov^BM.A.", "R2", "00002", "BOOK002"},
		{"^A1984", "^AOrwell^BG.", "I(Eng)", "00003", "BOOK003"},
		{"^ACrime and Punishment", "^ADostoevsky^BF.M.", "R2", "00004", "BOOK004"},
		{"^AAnna Karenina", "^ATolstoy^BL.N.", "R2", "00005", "BOOK005"},
		{"^AThe Cherry Orchard", "^AChekhov^BA.P.", "R2", "00006", "NEW001"},
	}
	for _, b := range books {
		rec := NewRecord()
		rec.AddField(FieldTitle, b.title)
		rec.AddField(FieldAuthor, b.author)
		rec.AddField(FieldShelfmark, b.shelfmark)
		rec.AddField(FieldExemplars,
			fmt.Sprintf("^a0^b%s^c20200101^dLending^h%s", b.inventory, b.bookRFID))
		m.addRecord(m.booksDB, rec)
	}
}

func (m *Mock) addRecord(db string, rec *Record) {
	mfn := m.nextMFN[db]
	m.nextMFN[db] = mfn + 1
	rec.MFN = mfn
	m.databases[db][mfn] = rec
}

// AddRecord seeds an extra record; tests use it.
func (m *Mock) AddRecord(db string, rec *Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.databases[db] == nil {
		m.databases[db] = map[int]*Record{}
		m.nextMFN[db] = 1
	}
	m.addRecord(db, rec)
}

func (m *Mock) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

func (m *Mock) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

func (m *Mock) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Search supports the index prefixes the service issues: RI=/EKP= over
// reader cards, H=/HI=/RF=/RFID= over exemplar tags, HIN= over open
// loans.
func (m *Mock) Search(ctx context.Context, database, expression string) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, ErrNotConnected
	}

	eq := strings.IndexByte(expression, '=')
	if eq < 0 {
		return nil, nil
	}
	prefix := expression[:eq+1]
	term := strings.Trim(expression[eq+1:], "\"")
	normalized := rfid.NormalizeUID(term)
	upper := strings.ToUpper(term)

	var mfns []int
	for mfn, rec := range m.databases[database] {
		if m.matches(rec, prefix, upper, normalized) {
			mfns = append(mfns, mfn)
		}
	}
	return mfns, nil
}

func (m *Mock) matches(rec *Record, prefix, upper, normalized string) bool {
	equal := func(candidate string) bool {
		if candidate == "" {
			return false
		}
		if strings.ToUpper(candidate) == upper {
			return true
		}
		cn := rfid.NormalizeUID(candidate)
		return cn != "" && cn == normalized
	}

	switch prefix {
	case "RI=", "EKP=":
		for _, v := range rec.FieldValues(FieldReaderCard) {
			if equal(v) {
				return true
			}
		}
	case "H=", "HI=", "RF=", "RFID=":
		for _, v := range rec.FieldValues(FieldExemplars) {
			if equal(SubfieldValue(v, 'h')) {
				return true
			}
		}
	case "HIN=":
		for _, v := range rec.FieldValues(FieldLoans) {
			if SubfieldValue(v, 'f') != OpenLoanPlaceholder {
				continue
			}
			if equal(SubfieldValue(v, 'h')) {
				return true
			}
		}
	}
	return false
}

func (m *Mock) ReadRecord(ctx context.Context, database string, mfn int) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, ErrNotConnected
	}
	rec, ok := m.databases[database][mfn]
	if !ok {
		return nil, &ProtocolError{Code: RetRecordDeleted}
	}
	return rec.Clone(), nil
}

func (m *Mock) WriteRecord(ctx context.Context, database string, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	if rec.MFN == 0 {
		m.addRecord(database, rec.Clone())
		return nil
	}
	if _, ok := m.databases[database][rec.MFN]; !ok {
		return &ProtocolError{Code: RetRecordDeleted}
	}
	m.databases[database][rec.MFN] = rec.Clone()
	return nil
}

func (m *Mock) FormatRecord(ctx context.Context, database string, mfn int, format string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return "", ErrNotConnected
	}
	rec, ok := m.databases[database][mfn]
	if !ok {
		return "", &ProtocolError{Code: RetRecordDeleted}
	}
	return BookBrief(rec), nil
}
