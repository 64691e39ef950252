package loader

import (
	"strings"
	"testing"
)

func TestLoadFile_GroupsByConsultora(t *testing.T) {
	csv := "consultora_code,consultora_name,product_code,quantity\n" +
		"C1,Ana,P1,2\n" +
		"C1,Ana,P2,3\n" +
		"C2,Beatriz,P3,\n"

	orders, err := LoadFile("orders.csv", strings.NewReader(csv))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}

	if orders[0].ConsultoraCode != "C1" || len(orders[0].Products) != 2 {
		t.Fatalf("unexpected first order: %+v", orders[0])
	}
	if orders[0].Products[0].ProductCode != "P1" || orders[0].Products[0].Quantity != 2 {
		t.Fatalf("unexpected product: %+v", orders[0].Products[0])
	}

	if orders[1].ConsultoraCode != "C2" || orders[1].Products[0].Quantity != 1 {
		t.Fatalf("quantity should default to 1 when missing: %+v", orders[1])
	}
}

func TestLoadFile_MissingRequiredColumn(t *testing.T) {
	csv := "consultora_code,product_code\nC1,P1\n"

	if _, err := LoadFile("orders.csv", strings.NewReader(csv)); err == nil {
		t.Fatal("expected an error for missing quantity column")
	}
}

func TestLoadFile_SkipsBlankRows(t *testing.T) {
	csv := "consultora_code,product_code,quantity\nC1,P1,1\n,,\nC1,P2,1\n"

	orders, err := LoadFile("orders.csv", strings.NewReader(csv))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(orders) != 1 || len(orders[0].Products) != 2 {
		t.Fatalf("unexpected grouping: %+v", orders)
	}
}
