package ui

import (
	"testing"

	"github.com/charmbracelet/bubbles/textinput"

	"pgtunnel/internal/model"
)

func testModel(dbs []model.DatabaseTarget) modelUI {
	fi := textinput.New()
	m := modelUI{databases: dbs, filter: fi}
	m.applyFilter()
	return m
}

func TestApplyFilterMatchesNameAndHost(t *testing.T) {
	m := testModel([]model.DatabaseTarget{
		{Name: "orders", Host: "orders.internal", Port: 5432},
		{Name: "billing", Host: "billing.internal", Port: 5432},
		{Name: "analytics", Host: "warehouse.internal", Port: 5439},
	})

	m.filter.SetValue("bill")
	m.applyFilter()
	if len(m.filtered) != 1 || m.filtered[0].Name != "billing" {
		t.Fatalf("filtered = %+v", m.filtered)
	}

	m.filter.SetValue("warehouse")
	m.applyFilter()
	if len(m.filtered) != 1 || m.filtered[0].Name != "analytics" {
		t.Fatalf("filtered = %+v", m.filtered)
	}

	m.filter.SetValue("")
	m.applyFilter()
	if len(m.filtered) != 3 {
		t.Fatalf("expected all databases, got %+v", m.filtered)
	}
}

func TestApplyFilterClampsSelection(t *testing.T) {
	m := testModel([]model.DatabaseTarget{
		{Name: "orders", Host: "orders.internal", Port: 5432},
		{Name: "billing", Host: "billing.internal", Port: 5432},
	})
	m.sel = 1
	m.filter.SetValue("orders")
	m.applyFilter()
	if m.sel != 0 {
		t.Fatalf("sel = %d, want clamped to 0", m.sel)
	}
}

func TestDatabaseTunneledMatchesStatus(t *testing.T) {
	m := testModel([]model.DatabaseTarget{
		{Name: "orders", Host: "orders.internal", Port: 5432},
	})
	m.tunnel = model.TunnelStatus{State: model.SessionActive, RemoteHost: "orders.internal", RemotePort: 5432}
	if !m.databaseTunneled(m.databases[0]) {
		t.Fatal("expected database to be marked tunneled")
	}
	m.tunnel.State = model.SessionStopped
	if m.databaseTunneled(m.databases[0]) {
		t.Fatal("stopped tunnel must not mark the database")
	}
}
