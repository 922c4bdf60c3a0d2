package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"cleanwave/internal/geocode"
	"cleanwave/internal/model"

	"github.com/gin-gonic/gin"
)

func TestCreateEvent_RoundTripStructuredFields(t *testing.T) {
	s, geo, _ := newTestServer(t)
	organizer := createUser(t, s.db, "org@example.com", model.RoleOrganizer)
	geo.coords = geocode.Coordinates{Latitude: 45.5, Longitude: -122.6}
	geo.ok = true

	r := gin.New()
	asUser(r, http.MethodPost, "/events", organizer.ID, model.RoleOrganizer, s.handleCreateEvent)
	r.GET("/events/:id", s.handleGetEvent)

	body := map[string]interface{}{
		"title":            "Riverbank Cleanup",
		"description":      "Morning shift.",
		"date":             "2026-10-03",
		"time_start":       "09:00",
		"time_end":         "12:00",
		"location":         "North Pier",
		"city":             "Portland",
		"state":            "OR",
		"what_to_bring":    []string{"gloves", "bags"},
		"safety_protocols": []string{"wear boots"},
		"tags":             []string{"river"},
	}
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created eventResponse
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.Latitude == nil || *created.Latitude != 45.5 {
		t.Fatalf("expected geocoded latitude, got %v", created.Latitude)
	}
	if created.MaxParticipants != model.DefaultMaxParticipants {
		t.Fatalf("expected default max_participants, got %d", created.MaxParticipants)
	}

	// 按 ID 取回，结构化字段必须逐项原样返回
	getReq := httptest.NewRequest(http.MethodGet, "/events/"+itoa(created.ID), nil)
	getW := httptest.NewRecorder()
	r.ServeHTTP(getW, getReq)

	if getW.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", getW.Code)
	}
	var fetched eventResponse
	if err := json.Unmarshal(getW.Body.Bytes(), &fetched); err != nil {
		t.Fatalf("decode get response: %v", err)
	}
	if !reflect.DeepEqual(fetched.WhatToBring, model.StringList{"gloves", "bags"}) {
		t.Fatalf("what_to_bring not round-tripped: %v", fetched.WhatToBring)
	}
	if !reflect.DeepEqual(fetched.SafetyProtocols, model.StringList{"wear boots"}) {
		t.Fatalf("safety_protocols not round-tripped: %v", fetched.SafetyProtocols)
	}
	if !reflect.DeepEqual(fetched.Tags, model.StringList{"river"}) {
		t.Fatalf("tags not round-tripped: %v", fetched.Tags)
	}
}

func TestCreateEvent_GeocodeFailureDoesNotBlock(t *testing.T) {
	s, geo, _ := newTestServer(t)
	organizer := createUser(t, s.db, "org@example.com", model.RoleOrganizer)
	geo.ok = false

	r := gin.New()
	asUser(r, http.MethodPost, "/events", organizer.ID, model.RoleOrganizer, s.handleCreateEvent)

	payload, _ := json.Marshal(map[string]interface{}{
		"title":            "Cleanup",
		"description":      "d",
		"date":             "2026-10-03",
		"time_start":       "09:00",
		"time_end":         "12:00",
		"location":         "Nowhere",
		"city":             "X",
		"state":            "Y",
		"what_to_bring":    []string{},
		"safety_protocols": []string{},
	})
	req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created eventResponse
	_ = json.Unmarshal(w.Body.Bytes(), &created)
	if created.Latitude != nil || created.Longitude != nil {
		t.Fatalf("expected no coordinates, got %v %v", created.Latitude, created.Longitude)
	}
}

func TestCreateEvent_RejectsBadDateAndTime(t *testing.T) {
	s, _, _ := newTestServer(t)
	organizer := createUser(t, s.db, "org@example.com", model.RoleOrganizer)

	r := gin.New()
	asUser(r, http.MethodPost, "/events", organizer.ID, model.RoleOrganizer, s.handleCreateEvent)

	tests := []struct {
		name      string
		date      string
		timeStart string
	}{
		{"bad date", "10/03/2026", "09:00"},
		{"bad time", "2026-10-03", "9am"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, _ := json.Marshal(map[string]interface{}{
				"title":            "Cleanup",
				"description":      "d",
				"date":             tt.date,
				"time_start":       tt.timeStart,
				"time_end":         "12:00",
				"location":         "L",
				"city":             "C",
				"state":            "S",
				"what_to_bring":    []string{},
				"safety_protocols": []string{},
			})
			req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader(payload))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", w.Code)
			}
		})
	}
}

func TestUpdateEvent_OrganizerOnlyAndNoRegeocode(t *testing.T) {
	s, geo, _ := newTestServer(t)
	organizer := createUser(t, s.db, "org@example.com", model.RoleOrganizer)
	other := createUser(t, s.db, "other@example.com", model.RoleOrganizer)
	event := createEvent(t, s.db, organizer.ID, 10)

	r := gin.New()
	asUser(r, http.MethodPut, "/events/:id", organizer.ID, model.RoleOrganizer, s.handleUpdateEvent)
	asUser(r, http.MethodPut, "/other/events/:id", other.ID, model.RoleOrganizer, s.handleUpdateEvent)

	payload, _ := json.Marshal(map[string]interface{}{"location": "South Pier"})

	// 非组织者被拒
	req := httptest.NewRequest(http.MethodPut, "/other/events/"+itoa(event.ID), bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-organizer, got %d", w.Code)
	}

	// 组织者改地点：坐标不动，也不触发地理编码
	req = httptest.NewRequest(http.MethodPut, "/events/"+itoa(event.ID), bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if geo.calls != 0 {
		t.Fatalf("location update must not re-geocode, got %d calls", geo.calls)
	}
	var updated eventResponse
	_ = json.Unmarshal(w.Body.Bytes(), &updated)
	if updated.Location != "South Pier" {
		t.Fatalf("location not updated: %s", updated.Location)
	}
}

func TestUpdateEvent_TagsNullClears(t *testing.T) {
	s, _, _ := newTestServer(t)
	organizer := createUser(t, s.db, "org@example.com", model.RoleOrganizer)
	event := createEvent(t, s.db, organizer.ID, 10)

	r := gin.New()
	asUser(r, http.MethodPut, "/events/:id", organizer.ID, model.RoleOrganizer, s.handleUpdateEvent)

	// 不带 tags 的更新保持原值
	payload, _ := json.Marshal(map[string]interface{}{"title": "Renamed"})
	req := httptest.NewRequest(http.MethodPut, "/events/"+itoa(event.ID), bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var resp eventResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Tags) != 1 {
		t.Fatalf("absent tags must stay unchanged, got %v", resp.Tags)
	}

	// 显式 null 清空
	req = httptest.NewRequest(http.MethodPut, "/events/"+itoa(event.ID), bytes.NewReader([]byte(`{"tags":null}`)))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Tags) != 0 {
		t.Fatalf("explicit null must clear tags, got %v", resp.Tags)
	}
}

func TestDeleteEvent_SoftDeleteVisibility(t *testing.T) {
	s, _, _ := newTestServer(t)
	organizer := createUser(t, s.db, "org@example.com", model.RoleOrganizer)
	event := createEvent(t, s.db, organizer.ID, 10)

	r := gin.New()
	asUser(r, http.MethodDelete, "/events/:id", organizer.ID, model.RoleOrganizer, s.handleDeleteEvent)
	r.GET("/events", s.handleListEvents)
	r.GET("/events/:id", s.handleGetEvent)

	req := httptest.NewRequest(http.MethodDelete, "/events/"+itoa(event.ID), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	// 列表不再包含
	listW := httptest.NewRecorder()
	r.ServeHTTP(listW, httptest.NewRequest(http.MethodGet, "/events", nil))
	var list []eventResponse
	_ = json.Unmarshal(listW.Body.Bytes(), &list)
	if len(list) != 0 {
		t.Fatalf("soft-deleted event still listed: %v", list)
	}

	// 按 ID 仍可读取
	getW := httptest.NewRecorder()
	r.ServeHTTP(getW, httptest.NewRequest(http.MethodGet, "/events/"+itoa(event.ID), nil))
	if getW.Code != http.StatusOK {
		t.Fatalf("soft-deleted event must stay fetchable by id, got %d", getW.Code)
	}
	var fetched eventResponse
	_ = json.Unmarshal(getW.Body.Bytes(), &fetched)
	if fetched.IsActive {
		t.Fatalf("expected is_active=false after delete")
	}
}

func TestMapData_LazyGeocodeAndOmission(t *testing.T) {
	s, geo, _ := newTestServer(t)
	organizer := createUser(t, s.db, "org@example.com", model.RoleOrganizer)

	// 一个已有坐标，一个待解析
	withCoords := createEvent(t, s.db, organizer.ID, 10)
	lat, lon := 45.5, -122.6
	if err := s.db.Model(withCoords).Updates(map[string]interface{}{"latitude": lat, "longitude": lon}).Error; err != nil {
		t.Fatalf("set coords: %v", err)
	}
	pending := createEvent(t, s.db, organizer.ID, 10)

	r := gin.New()
	r.GET("/events/map-data", s.handleMapData)

	// 解析失败：pending 被省略
	geo.ok = false
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events/map-data", nil))
	var items []mapDataItem
	_ = json.Unmarshal(w.Body.Bytes(), &items)
	if len(items) != 1 || items[0].ID != withCoords.ID {
		t.Fatalf("expected only the geocoded event, got %v", items)
	}

	// 解析成功：坐标回写，下一次不再外呼
	geo.ok = true
	geo.coords.Latitude, geo.coords.Longitude = 44.0, -123.0
	callsBefore := geo.calls
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events/map-data", nil))
	items = nil
	_ = json.Unmarshal(w.Body.Bytes(), &items)
	if len(items) != 2 {
		t.Fatalf("expected both events after geocode, got %d", len(items))
	}
	if geo.calls != callsBefore+1 {
		t.Fatalf("expected exactly one lookup, got %d", geo.calls-callsBefore)
	}

	var persisted model.Event
	if err := s.db.First(&persisted, pending.ID).Error; err != nil {
		t.Fatalf("reload event: %v", err)
	}
	if persisted.Latitude == nil || *persisted.Latitude != 44.0 {
		t.Fatalf("coordinates not persisted: %v", persisted.Latitude)
	}

	// 已回写后不再触发外呼
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events/map-data", nil))
	if geo.calls != callsBefore+1 {
		t.Fatalf("persisted coordinates must not trigger lookups, got %d", geo.calls-callsBefore)
	}
}
