package threescale

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

// newTestClient creates a client against an httptest server.
func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(DefaultConfig(server.URL, "secret-token"))
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return client, server
}

// servicePage serializes services into the list envelope the Admin API uses.
func servicePage(services ...Service) []byte {
	var list serviceList
	for _, s := range services {
		list.Services = append(list.Services, serviceEnvelope{Service: s})
	}
	body, _ := json.Marshal(list)
	return body
}

func TestClient_RequestShape(t *testing.T) {
	var gotPath, gotToken, gotAgent string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.URL.Query().Get("access_token")
		gotAgent = r.Header.Get("User-Agent")
		w.Write(servicePage())
	}))

	if _, err := client.ListServices(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/admin/api/services.json" {
		t.Errorf("expected admin API path, got %s", gotPath)
	}
	if gotToken != "secret-token" {
		t.Errorf("expected access token on query, got %q", gotToken)
	}
	if gotAgent != "3scale-sync" {
		t.Errorf("expected default user agent, got %q", gotAgent)
	}
}

func TestListServices_Pagination(t *testing.T) {
	pages := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages++
		page := r.URL.Query().Get("page")
		if page == "1" {
			full := make([]Service, listPageSize)
			for i := range full {
				full[i] = Service{ID: int64(i + 1), SystemName: fmt.Sprintf("svc-%d", i+1)}
			}
			w.Write(servicePage(full...))
			return
		}
		w.Write(servicePage(Service{ID: 1000, SystemName: "svc-last"}))
	}))

	services, err := client.ListServices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pages != 2 {
		t.Errorf("expected 2 pages fetched, got %d", pages)
	}
	if len(services) != listPageSize+1 {
		t.Errorf("expected %d services, got %d", listPageSize+1, len(services))
	}
	if services[len(services)-1].SystemName != "svc-last" {
		t.Errorf("expected last page appended, got %s", services[len(services)-1].SystemName)
	}
}

func TestFindService(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(servicePage(
			Service{ID: 1, SystemName: "petstore"},
			Service{ID: 2, SystemName: "inventory"},
		))
	}))

	svc, err := client.FindService(context.Background(), "inventory")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if svc == nil || svc.ID != 2 {
		t.Errorf("expected service 2, got %+v", svc)
	}

	absent, err := client.FindService(context.Background(), "no-such")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if absent != nil {
		t.Errorf("expected nil for unknown system_name, got %+v", absent)
	}
}

func TestCreateService_DefaultsDeploymentOption(t *testing.T) {
	var form url.Values
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		form = r.PostForm
		json.NewEncoder(w).Encode(serviceEnvelope{Service: Service{ID: 42, SystemName: "petstore"}})
	}))

	svc, err := client.CreateService(context.Background(), ServiceUpsert{
		Name:       "Petstore",
		SystemName: "petstore",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if svc.ID != 42 {
		t.Errorf("expected created service 42, got %d", svc.ID)
	}
	if form.Get("deployment_option") != "self_managed" {
		t.Errorf("expected self_managed default, got %q", form.Get("deployment_option"))
	}
}

func TestCreateService_SendsBackendVersion(t *testing.T) {
	var form url.Values
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		form = r.PostForm
		json.NewEncoder(w).Encode(serviceEnvelope{Service: Service{ID: 42, SystemName: "petstore"}})
	}))

	// A freshly created service must carry the declared authentication
	// mode, not the tenant default until the next run notices the drift.
	_, err := client.CreateService(context.Background(), ServiceUpsert{
		Name:           "Petstore",
		SystemName:     "petstore",
		BackendVersion: "oidc",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if form.Get("backend_version") != "oidc" {
		t.Errorf("expected backend_version sent on create, form = %v", form)
	}

	// An upsert without an auth mode stays sparse.
	_, err = client.CreateService(context.Background(), ServiceUpsert{
		Name:       "Petstore",
		SystemName: "petstore",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := form["backend_version"]; ok {
		t.Error("expected empty backend_version to be omitted")
	}
}

func TestSubmitForm_DropsEmptyValues(t *testing.T) {
	var form url.Values
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		form = r.PostForm
		json.NewEncoder(w).Encode(serviceEnvelope{Service: Service{ID: 42}})
	}))

	_, err := client.UpdateService(context.Background(), 42, ServiceUpsert{Name: "Petstore"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if form.Get("name") != "Petstore" {
		t.Errorf("expected name field, got %q", form.Get("name"))
	}
	if _, ok := form["backend_version"]; ok {
		t.Error("expected empty backend_version to be omitted")
	}
	if _, ok := form["description"]; ok {
		t.Error("expected empty description to be omitted")
	}
}

func TestAPIError_Classification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusRequestTimeout, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusForbidden, false},
		{http.StatusNotFound, false},
		{http.StatusUnprocessableEntity, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":"nope"}`))
			}))

			_, err := client.ListServices(context.Background())
			if err == nil {
				t.Fatal("expected error")
			}
			if IsTransient(err) != tt.transient {
				t.Errorf("expected transient=%v for status %d", tt.transient, tt.status)
			}
			if !IsStatus(err, tt.status) {
				t.Errorf("expected IsStatus to match %d", tt.status)
			}
		})
	}
}

func TestFetchProxy_XML(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/admin/api/services/42/proxy" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<proxy>
  <endpoint>https://petstore.example.com:443</endpoint>
  <credentials_location>headers</credentials_location>
  <oidc_issuer_type>keycloak</oidc_issuer_type>
</proxy>`))
	}))

	proxy, err := client.FetchProxy(context.Background(), 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if proxy.ServiceID != 42 {
		t.Errorf("expected service id stamped, got %d", proxy.ServiceID)
	}
	if proxy.Endpoint != "https://petstore.example.com:443" {
		t.Errorf("unexpected endpoint %q", proxy.Endpoint)
	}
	if proxy.CredentialsLocation != "headers" {
		t.Errorf("unexpected credentials location %q", proxy.CredentialsLocation)
	}
}

func TestUpdateProxy_PatchesSparseForm(t *testing.T) {
	var method string
	var form url.Values
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		r.ParseForm()
		form = r.PostForm
		w.Write([]byte(`<proxy><endpoint>https://new.example.com</endpoint></proxy>`))
	}))

	proxy, err := client.UpdateProxy(context.Background(), 42, ProxyUpdate{
		Endpoint: "https://new.example.com",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if method != "PATCH" {
		t.Errorf("expected PATCH, got %s", method)
	}
	if form.Get("endpoint") != "https://new.example.com" {
		t.Errorf("unexpected endpoint form value %q", form.Get("endpoint"))
	}
	if _, ok := form["oidc_issuer_endpoint"]; ok {
		t.Error("expected empty oidc_issuer_endpoint to be omitted")
	}
	if proxy.Endpoint != "https://new.example.com" {
		t.Errorf("unexpected endpoint %q", proxy.Endpoint)
	}
}

func TestUpdateOIDCConfiguration_SendsAllFlags(t *testing.T) {
	var form url.Values
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		form = r.PostForm
		w.Write([]byte(`<oidc_configuration><standard_flow_enabled>true</standard_flow_enabled></oidc_configuration>`))
	}))

	_, err := client.UpdateOIDCConfiguration(context.Background(), 42, OIDCConfiguration{
		StandardFlowEnabled: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Disabled flows are sent explicitly, not omitted
	for _, key := range []string{"standard_flow_enabled", "implicit_flow_enabled", "service_accounts_enabled", "direct_access_grants_enabled"} {
		if _, ok := form[key]; !ok {
			t.Errorf("expected %s to be sent", key)
		}
	}
	if form.Get("implicit_flow_enabled") != "false" {
		t.Errorf("expected implicit flow false, got %q", form.Get("implicit_flow_enabled"))
	}
}

func TestPromoteProxyConfig(t *testing.T) {
	t.Run("promotes", func(t *testing.T) {
		var path string
		var form url.Values
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path = r.URL.Path
			r.ParseForm()
			form = r.PostForm
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{}`))
		}))

		promoted, err := client.PromoteProxyConfig(context.Background(), 42, 3)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !promoted {
			t.Error("expected promotion to report true")
		}
		if path != "/admin/api/services/42/proxy/configs/sandbox/3/promote.json" {
			t.Errorf("unexpected path %s", path)
		}
		if form.Get("to") != "production" {
			t.Errorf("expected to=production, got %q", form.Get("to"))
		}
	})

	t.Run("already promoted", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"error":"cannot promote"}`))
		}))

		promoted, err := client.PromoteProxyConfig(context.Background(), 42, 3)
		if err != nil {
			t.Fatalf("expected 422 to be tolerated, got %v", err)
		}
		if promoted {
			t.Error("expected promotion to report false")
		}
	})

	t.Run("denied", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))

		if _, err := client.PromoteProxyConfig(context.Background(), 42, 3); err == nil {
			t.Fatal("expected error on 403")
		}
	})
}

func TestLatestProxyConfig_AbsentReturnsNil(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	cfg, err := client.LatestProxyConfig(context.Background(), 42, EnvironmentSandbox)
	if err != nil {
		t.Fatalf("expected 404 to mean no config, got %v", err)
	}
	if cfg != nil {
		t.Errorf("expected nil config, got %+v", cfg)
	}
}

func TestUpdatePolicyChain_PreservesOrder(t *testing.T) {
	var form url.Values
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		form = r.PostForm
		w.Write([]byte(`{}`))
	}))

	chain := []PolicyEntry{
		{Name: "apicast", Version: "builtin", Enabled: true, Configuration: map[string]interface{}{}},
		{Name: "headers", Version: "builtin", Enabled: true, Configuration: map[string]interface{}{"set": "x-env"}},
	}
	if err := client.UpdatePolicyChain(context.Background(), 42, chain); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var sent []PolicyEntry
	if err := json.Unmarshal([]byte(form.Get("policies_config")), &sent); err != nil {
		t.Fatalf("failed to decode sent chain: %v", err)
	}
	if len(sent) != 2 || sent[0].Name != "apicast" || sent[1].Name != "headers" {
		t.Errorf("unexpected chain order: %+v", sent)
	}
}

func TestObserver_SeesStatusAndDuration(t *testing.T) {
	_, server := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	type observation struct {
		method string
		path   string
		status int
	}
	var observed []observation
	cfg := DefaultConfig(server.URL, "secret-token")
	cfg.Observer = func(method, path string, status int, duration time.Duration) {
		observed = append(observed, observation{method, path, status})
		if duration < 0 {
			t.Errorf("negative duration observed")
		}
	}
	client, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	if _, err := client.ListServices(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if len(observed) != 1 {
		t.Fatalf("expected 1 observation, got %d", len(observed))
	}
	if observed[0].status != http.StatusServiceUnavailable || observed[0].method != http.MethodGet {
		t.Errorf("unexpected observation: %+v", observed[0])
	}
}
