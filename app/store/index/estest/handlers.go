package estest

import (
	"fmt"
	"net/http"
	"strings"
)

func (e *Engine) createIndex(name string, body []byte) (int, response) {
	if len(e.resolve(name)) > 0 {
		return errorResponse(http.StatusBadRequest, "resource_already_exists_exception",
			fmt.Sprintf("index [%s] already exists", name))
	}
	if strings.Contains(name, "*") || strings.ToLower(name) != name {
		return errorResponse(http.StatusBadRequest, "invalid_index_name_exception", fmt.Sprintf("Invalid index name [%s]", name))
	}
	var req struct {
		Mappings map[string]interface{} `json:"mappings"`
		Aliases  map[string]interface{} `json:"aliases"`
	}
	if ie := decodeBody(body, &req); ie != nil {
		return ie.response()
	}
	idx, err := newPhysIndex(name)
	if err != nil {
		return errorResponse(http.StatusInternalServerError, "exception", err.Error())
	}
	for typ, m := range req.Mappings {
		idx.mappings[typ] = m
	}
	e.indices[name] = idx
	for alias := range req.Aliases {
		e.addAlias(alias, name)
	}
	return http.StatusOK, map[string]interface{}{"acknowledged": true, "shards_acknowledged": true, "index": name}
}

func (e *Engine) deleteIndex(name string) (int, response) {
	var names []string
	if _, ok := e.indices[name]; ok {
		names = []string{name}
	} else if strings.Contains(name, "*") {
		names = e.resolve(name)
	}
	if len(names) == 0 {
		return indexNotFound(name)
	}
	for _, n := range names {
		_ = e.indices[n].close()
		delete(e.indices, n)
		for alias, set := range e.aliases {
			delete(set, n)
			if len(set) == 0 {
				delete(e.aliases, alias)
			}
		}
	}
	return http.StatusOK, map[string]interface{}{"acknowledged": true}
}

func (e *Engine) addAlias(alias, index string) {
	if e.aliases[alias] == nil {
		e.aliases[alias] = map[string]bool{}
	}
	e.aliases[alias][index] = true
}

func (e *Engine) updateAliases(body []byte) (int, response) {
	var req struct {
		Actions []map[string]struct {
			Index string `json:"index"`
			Alias string `json:"alias"`
		} `json:"actions"`
	}
	if ie := decodeBody(body, &req); ie != nil {
		return ie.response()
	}

	for _, action := range req.Actions {
		for op, a := range action {
			if _, ok := e.indices[a.Index]; !ok {
				return indexNotFound(a.Index)
			}
			switch op {
			case "add":
				if _, ok := e.indices[a.Alias]; ok {
					return errorResponse(http.StatusBadRequest, "invalid_alias_name_exception",
						fmt.Sprintf("Invalid alias name [%s], an index exists with the same name as the alias", a.Alias))
				}
			case "remove":
				if !e.aliases[a.Alias][a.Index] {
					return errorResponse(http.StatusNotFound, "aliases_not_found_exception",
						fmt.Sprintf("aliases [%s] missing", a.Alias))
				}
			default:
				return errorResponse(http.StatusBadRequest, "illegal_argument_exception",
					fmt.Sprintf("unsupported action [%s]", op))
			}
		}
	}

	for _, action := range req.Actions {
		for op, a := range action {
			if op == "add" {
				e.addAlias(a.Alias, a.Index)
				continue
			}
			delete(e.aliases[a.Alias], a.Index)
			if len(e.aliases[a.Alias]) == 0 {
				delete(e.aliases, a.Alias)
			}
		}
	}
	return http.StatusOK, map[string]interface{}{"acknowledged": true}
}

func (e *Engine) getAlias(alias string) (int, response) {
	set := e.aliases[alias]
	if len(set) == 0 {
		return http.StatusNotFound, map[string]interface{}{"error": fmt.Sprintf("alias [%s] missing", alias), "status": 404}
	}
	res := map[string]interface{}{}
	for n := range set {
		res[n] = map[string]interface{}{"aliases": map[string]interface{}{alias: map[string]interface{}{}}}
	}
	return http.StatusOK, res
}

func (e *Engine) listAliases(name string) (int, response) {
	names := e.resolve(name)
	if len(names) == 0 && !strings.Contains(name, "*") {
		return indexNotFound(name)
	}
	res := map[string]interface{}{}
	for _, n := range names {
		res[n] = map[string]interface{}{"aliases": e.aliasesOf(n)}
	}
	return http.StatusOK, res
}

func (e *Engine) mapping(method, name, typ string, body []byte) (int, response) {
	names := e.resolve(name)
	if len(names) == 0 {
		return indexNotFound(name)
	}

	switch method {
	case http.MethodPut, http.MethodPost:
		var req map[string]interface{}
		if ie := decodeBody(body, &req); ie != nil {
			return ie.response()
		}
		m, ok := req[typ].(map[string]interface{})
		if !ok {
			m = req
		}
		for _, n := range names {
			existing, _ := e.indices[n].mappings[typ].(map[string]interface{})
			e.indices[n].mappings[typ] = mergeSource(existing, m)
		}
		return http.StatusOK, map[string]interface{}{"acknowledged": true}
	case http.MethodGet:
		res := map[string]interface{}{}
		for _, n := range names {
			if m, ok := e.indices[n].mappings[typ]; ok {
				res[n] = map[string]interface{}{"mappings": map[string]interface{}{typ: m}}
			}
		}
		return http.StatusOK, res
	}
	return errorResponse(http.StatusMethodNotAllowed, "method_not_allowed", method+" /"+name+"/"+typ+"/_mapping")
}

func (e *Engine) deleteType(name, typ string) (int, response) {
	names := e.resolve(name)
	if len(names) == 0 {
		return indexNotFound(name)
	}
	found := false
	for _, n := range names {
		idx := e.indices[n]
		if _, ok := idx.mappings[typ]; ok {
			delete(idx.mappings, typ)
			found = true
		}
		for _, id := range idx.sortedIDs() {
			if idx.docs[id].typ == typ {
				_, _ = idx.remove(id)
				found = true
			}
		}
	}
	if !found {
		return errorResponse(http.StatusNotFound, "type_missing_exception", fmt.Sprintf("type [%s] missing", typ))
	}
	return http.StatusOK, map[string]interface{}{"acknowledged": true}
}

func (e *Engine) document(method, name, typ, id string, body []byte) (int, response) {
	switch method {
	case http.MethodPut, http.MethodPost:
		return e.indexDocument(name, typ, id, body)
	case http.MethodGet, http.MethodHead:
		return e.getDocument(name, typ, id)
	case http.MethodDelete:
		return e.deleteDocument(name, typ, id)
	}
	return errorResponse(http.StatusMethodNotAllowed, "method_not_allowed", method+" /"+name+"/"+typ+"/"+id)
}

func (e *Engine) indexDocument(name, typ, id string, body []byte) (int, response) {
	var src map[string]interface{}
	if ie := decodeBody(body, &src); ie != nil {
		return ie.response()
	}
	target, ie := e.writeTarget(name)
	if ie != nil {
		return ie.response()
	}
	status, res, ie := e.indexInto(target, typ, id, src)
	if ie != nil {
		return ie.response()
	}
	return status, res
}

func (e *Engine) updateDocument(name, typ, id string, body []byte) (int, response) {
	var req map[string]interface{}
	if ie := decodeBody(body, &req); ie != nil {
		return ie.response()
	}
	target, ie := e.writeTarget(name)
	if ie != nil {
		return ie.response()
	}
	status, res, ie := e.updateInto(target, typ, id, req)
	if ie != nil {
		return ie.response()
	}
	return status, res
}

func (e *Engine) getDocument(name, typ, id string) (int, response) {
	names := e.resolve(name)
	if len(names) == 0 {
		return indexNotFound(name)
	}
	for _, n := range names {
		idx := e.indices[n]
		if d, ok := idx.docs[id]; ok {
			return http.StatusOK, map[string]interface{}{
				"_index": n, "_type": d.typ, "_id": id, "_version": d.version, "found": true, "_source": d.source,
			}
		}
	}
	return http.StatusNotFound, map[string]interface{}{"_index": name, "_type": typ, "_id": id, "found": false}
}

func (e *Engine) deleteDocument(name, typ, id string) (int, response) {
	names := e.resolve(name)
	if len(names) == 0 {
		return indexNotFound(name)
	}
	for _, n := range names {
		status, res := e.deleteFrom(e.indices[n], typ, id)
		if status == http.StatusOK {
			return status, res
		}
	}
	return http.StatusNotFound, map[string]interface{}{"_index": name, "_type": typ, "_id": id, "result": "not_found"}
}

func (e *Engine) indexInto(idx *physIndex, typ, id string, src map[string]interface{}) (int, map[string]interface{}, *itemError) {
	if src == nil {
		src = map[string]interface{}{}
	}
	if id == "" {
		id = e.nextID()
	}
	created, version, ie := idx.put(typ, id, src)
	if ie != nil {
		return ie.status, nil, ie
	}
	status, result := http.StatusOK, "updated"
	if created {
		status, result = http.StatusCreated, "created"
	}
	return status, map[string]interface{}{
		"_index": idx.name, "_type": typ, "_id": id, "_version": version, "result": result, "status": status,
	}, nil
}

func (e *Engine) updateInto(idx *physIndex, typ, id string, req map[string]interface{}) (int, map[string]interface{}, *itemError) {
	doc, _ := req["doc"].(map[string]interface{})
	asUpsert, _ := req["doc_as_upsert"].(bool)
	upsert, _ := req["upsert"].(map[string]interface{})

	var src map[string]interface{}
	existing, ok := idx.docs[id]
	switch {
	case ok:
		src = mergeSource(existing.source, doc)
	case asUpsert:
		src = doc
	case upsert != nil:
		src = upsert
	default:
		ie := &itemError{status: http.StatusNotFound, typ: "document_missing_exception",
			reason: fmt.Sprintf("[%s][%s]: document missing", typ, id)}
		return ie.status, nil, ie
	}
	return e.indexInto(idx, typ, id, src)
}

func (e *Engine) deleteFrom(idx *physIndex, typ, id string) (int, map[string]interface{}) {
	removed, err := idx.remove(id)
	if err != nil {
		status, res := errorResponse(http.StatusInternalServerError, "exception", err.Error())
		return status, res.(map[string]interface{})
	}
	if !removed {
		return http.StatusNotFound, map[string]interface{}{
			"_index": idx.name, "_type": typ, "_id": id, "result": "not_found", "status": http.StatusNotFound,
		}
	}
	return http.StatusOK, map[string]interface{}{
		"_index": idx.name, "_type": typ, "_id": id, "result": "deleted", "status": http.StatusOK,
	}
}
