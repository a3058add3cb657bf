package replicasim

import (
	"fmt"
	"sort"
	"sync"

	"github.com/plaenen/nsclient/pkg/command"
	"github.com/plaenen/nsclient/pkg/outcome"
)

// AllFields requests the whole record from Read.
const AllFields = "+ALL+"

// record is one named entry of the store.
type record struct {
	name   string
	fields map[string]any
}

// store is the field store shared by every replica of a cluster. Replication
// is not simulated; all replicas see the same state.
type store struct {
	mu      sync.RWMutex
	records map[string]*record
	// names maps human readable names to guids.
	names map[string]string
}

func newStore() *store {
	return &store{
		records: make(map[string]*record),
		names:   make(map[string]string),
	}
}

func (s *store) seed(guid, name string, fields map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(map[string]any, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	s.records[guid] = &record{name: name, fields: cp}
	if name != "" {
		s.names[name] = guid
	}
}

func (s *store) get(guid, field string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[guid]
	if !ok {
		return nil, false
	}
	v, ok := r.fields[field]
	return v, ok
}

func badGUID() outcome.Outcome {
	return outcome.Failure(outcome.KindBadIdentity, outcome.CodeBadGUID, "guid not found")
}

// execute applies cmd and returns its outcome.
func (s *store) execute(cmd *command.Command) outcome.Outcome {
	guid := cmd.GetString(command.FieldGUID)
	field := cmd.GetString(command.FieldField)
	value, _ := cmd.Get(command.FieldValue)

	switch cmd.Type {
	case command.TypeRead, command.TypeReadUnsigned:
		return s.read(guid, field)
	case command.TypeReplace:
		return s.update(guid, func(r *record) outcome.Outcome {
			r.fields[field] = value
			return outcome.Success(value)
		})
	case command.TypeAppend:
		return s.update(guid, func(r *record) outcome.Outcome {
			list, _ := r.fields[field].([]any)
			list = append(list, value)
			r.fields[field] = list
			return outcome.Success(list)
		})
	case command.TypeRemoveField:
		return s.update(guid, func(r *record) outcome.Outcome {
			if _, ok := r.fields[field]; !ok {
				return outcome.Failure(outcome.KindFieldNotFound, outcome.CodeFieldNotFound, field)
			}
			delete(r.fields, field)
			return outcome.Success(nil)
		})
	case command.TypeCreate:
		return s.create(cmd.GetString(command.FieldName), guid)
	case command.TypeDelete:
		return s.remove(guid)
	case command.TypeSelect:
		return s.selectWhere(field, value)
	case command.TypeLookupIdentity:
		return s.lookup(cmd.GetString(command.FieldName))
	default:
		return outcome.Failure(outcome.KindUnsupportedOperation, outcome.CodeOperationNotSupported, string(cmd.Type))
	}
}

func (s *store) read(guid, field string) outcome.Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[guid]
	if !ok {
		return badGUID()
	}
	if field == "" || field == AllFields {
		out := make(map[string]any, len(r.fields))
		for k, v := range r.fields {
			out[k] = v
		}
		return outcome.Success(out)
	}
	v, ok := r.fields[field]
	if !ok {
		return outcome.Failure(outcome.KindFieldNotFound, outcome.CodeFieldNotFound, field)
	}
	if v == nil {
		return outcome.Null()
	}
	return outcome.Success(v)
}

func (s *store) update(guid string, fn func(*record) outcome.Outcome) outcome.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[guid]
	if !ok {
		return badGUID()
	}
	return fn(r)
}

func (s *store) create(name, guid string) outcome.Outcome {
	if name == "" {
		return outcome.Failure(outcome.KindGeneralFailure, outcome.CodeGenericError, "create requires a name")
	}
	if guid == "" {
		guid = name
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.names[name]; ok {
		return outcome.Failure(outcome.KindDuplicateName, outcome.CodeDuplicateName, name)
	}
	if _, ok := s.records[guid]; ok {
		return outcome.Failure(outcome.KindBadIdentity, outcome.CodeDuplicateGUID, guid)
	}
	s.records[guid] = &record{name: name, fields: make(map[string]any)}
	s.names[name] = guid
	return outcome.Success(guid)
}

func (s *store) remove(guid string) outcome.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[guid]
	if !ok {
		return badGUID()
	}
	delete(s.records, guid)
	if r.name != "" {
		delete(s.names, r.name)
	}
	return outcome.Success(nil)
}

func (s *store) selectWhere(field string, value any) outcome.Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := []any{}
	for guid, r := range s.records {
		if v, ok := r.fields[field]; ok && fmt.Sprint(v) == fmt.Sprint(value) {
			matches = append(matches, guid)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].(string) < matches[j].(string)
	})
	return outcome.Success(matches)
}

func (s *store) lookup(name string) outcome.Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	guid, ok := s.names[name]
	if !ok {
		return badGUID()
	}
	return outcome.Success(guid)
}
