// HeartLink Core
// Copyright (c) 2025 The HeartLink Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of HeartLink Core.
//
// HeartLink Core is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// HeartLink Core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with HeartLink Core.  If not, see <http://www.gnu.org/licenses/>.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIPFilter_IsAllowed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		addr    string
		allowed []string
		want    bool
	}{
		{name: "empty list allows all", allowed: nil, addr: "203.0.113.9:5000", want: true},
		{name: "blank entries ignored", allowed: []string{" "}, addr: "203.0.113.9:5000", want: true},
		{name: "exact match", allowed: []string{"192.168.1.10"}, addr: "192.168.1.10:40000", want: true},
		{name: "exact miss", allowed: []string{"192.168.1.10"}, addr: "192.168.1.11:40000", want: false},
		{name: "cidr match", allowed: []string{"10.0.0.0/8"}, addr: "10.20.30.40:1", want: true},
		{name: "cidr miss", allowed: []string{"10.0.0.0/8"}, addr: "11.0.0.1:1", want: false},
		{name: "entry with port", allowed: []string{"192.168.1.10:5000"}, addr: "192.168.1.10:1", want: true},
		{name: "ipv6 loopback", allowed: []string{"::1"}, addr: "[::1]:5000", want: true},
		{name: "mapped ipv4", allowed: []string{"127.0.0.1"}, addr: "[::ffff:127.0.0.1]:5000", want: true},
		{name: "invalid entry skipped", allowed: []string{"not-an-ip", "127.0.0.1"}, addr: "127.0.0.1:1", want: true},
		{name: "unparseable addr", allowed: []string{"127.0.0.1"}, addr: "garbage", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, NewIPFilter(tt.allowed).IsAllowed(tt.addr))
		})
	}
}

func TestHTTPIPFilterMiddleware(t *testing.T) {
	t.Parallel()

	handler := HTTPIPFilterMiddleware(NewIPFilter([]string{"127.0.0.1"}))(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	)

	allowed := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	allowed.RemoteAddr = "127.0.0.1:5555"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, allowed)
	assert.Equal(t, http.StatusOK, rec.Code)

	blocked := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	blocked.RemoteAddr = "192.0.2.1:5555"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, blocked)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"Forbidden"}`, rec.Body.String())
}

func TestParseRemoteIP(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "10.0.0.1", ParseRemoteIP("10.0.0.1:80").String())
	assert.Equal(t, "10.0.0.1", ParseRemoteIP("10.0.0.1").String())
	assert.Nil(t, ParseRemoteIP("nope"))
}
