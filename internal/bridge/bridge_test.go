package bridge

import (
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"agropos/backend/internal/domain"
)

type fakeNative struct {
	saved    map[string][]byte
	saveErr  error
	info     domain.AppInfo
	infoErr  error
	saveDir  string
	saveHits int
}

func (f *fakeNative) SaveFile(payload []byte, filename string) (string, error) {
	f.saveHits++
	if f.saveErr != nil {
		return "", f.saveErr
	}
	if f.saved == nil {
		f.saved = map[string][]byte{}
	}
	f.saved[filename] = payload
	return filepath.Join(f.saveDir, filename), nil
}

func (f *fakeNative) AppInfo() (domain.AppInfo, error) {
	return f.info, f.infoErr
}

func TestExportPrefersNativeShell(t *testing.T) {
	native := &fakeNative{saveDir: "/native"}
	b := New(native, t.TempDir(), "1.2.0")

	result := b.Export([]byte("report"), "sales.csv")
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Path != "/native/sales.csv" {
		t.Fatalf("expected native path, got %s", result.Path)
	}
	if string(native.saved["sales.csv"]) != "report" {
		t.Fatalf("native shell did not receive the payload")
	}
}

func TestExportFallsBackToLocalWriteOnNativeFailure(t *testing.T) {
	dir := t.TempDir()
	native := &fakeNative{saveErr: errors.New("shell gone")}
	b := New(native, dir, "1.2.0")

	result := b.Export([]byte("payload"), "backup.json")
	if !result.Success {
		t.Fatalf("expected fallback success, got %+v", result)
	}
	written, err := os.ReadFile(filepath.Join(dir, "backup.json"))
	if err != nil {
		t.Fatalf("fallback file not written: %v", err)
	}
	if string(written) != "payload" {
		t.Fatalf("fallback wrote wrong content: %q", written)
	}
}

func TestExportFailureIsAResultNotAnError(t *testing.T) {
	b := New(nil, t.TempDir(), "")

	result := b.Export([]byte("x"), "   ")
	if result.Success {
		t.Fatalf("empty filename must fail")
	}
	if result.Message == "" {
		t.Fatalf("failure must carry a message")
	}
}

func TestExportStripsDirectoryComponents(t *testing.T) {
	dir := t.TempDir()
	b := New(nil, dir, "")

	result := b.Export([]byte("x"), "../../etc/passwd")
	if !result.Success {
		t.Fatalf("sanitized export should succeed, got %+v", result)
	}
	if filepath.Dir(result.Path) != dir {
		t.Fatalf("export escaped the export dir: %s", result.Path)
	}
	if filepath.Base(result.Path) != "passwd" {
		t.Fatalf("unexpected sanitized name: %s", result.Path)
	}
}

func TestAppInfoFallsBackToRuntimeValues(t *testing.T) {
	b := New(nil, "", "3.1.4")
	info := b.AppInfo()
	if info.Version != "3.1.4" {
		t.Fatalf("expected configured version, got %s", info.Version)
	}
	if info.Platform == "" || info.Architecture == "" {
		t.Fatalf("fallback must report the server platform, got %+v", info)
	}

	native := &fakeNative{info: domain.AppInfo{Version: "9.9.9", Platform: "kiosk", Architecture: "arm64"}}
	withNative := New(native, "", "3.1.4")
	if got := withNative.AppInfo(); got.Platform != "kiosk" {
		t.Fatalf("native info must win, got %+v", got)
	}
}

func TestRenderReceiptLayout(t *testing.T) {
	tx := domain.Transaction{
		ID:         "tx-abc",
		BranchName: "Main",
		Items: []domain.SaleLine{
			{ItemID: "item-a", ItemName: "Cat Food 2kg", Qty: 2, UnitPriceCents: 62000},
		},
		SubtotalCents:   124000,
		DiscountPercent: 10,
		TotalCents:      111600,
		Cashier:         "sales",
		CreatedAt:       time.Date(2026, 8, 20, 14, 30, 0, 0, time.UTC),
	}
	settings := domain.SystemSettings{CompanyName: "Toko Tani Makmur"}

	receipt := RenderReceipt(tx, settings)
	if receipt.TransactionID != "tx-abc" {
		t.Fatalf("wrong transaction id: %s", receipt.TransactionID)
	}
	for _, want := range []string{"Toko Tani Makmur", "Cat Food 2kg x2", "Subtotal : 124000", "Discount : 10.0%", "Total    : 111600", "Cashier: sales"} {
		if !strings.Contains(receipt.PreviewText, want) {
			t.Fatalf("preview missing %q:\n%s", want, receipt.PreviewText)
		}
	}
	if !strings.Contains(receipt.HTML, "Toko Tani Makmur") || !strings.Contains(receipt.HTML, "tx-abc") {
		t.Fatalf("html rendering incomplete")
	}

	escpos, err := base64.StdEncoding.DecodeString(receipt.EscposBase64)
	if err != nil {
		t.Fatalf("escpos payload not base64: %v", err)
	}
	if len(escpos) < 6 || escpos[0] != 0x1b || escpos[1] != 0x40 {
		t.Fatalf("escpos payload missing printer init")
	}
	if escpos[len(escpos)-4] != 0x1d || escpos[len(escpos)-3] != 0x56 {
		t.Fatalf("escpos payload missing cut command")
	}
}

func TestRenderReceiptOmitsDiscountLineWhenZero(t *testing.T) {
	tx := domain.Transaction{
		ID:            "tx-plain",
		BranchName:    "Depot",
		Items:         []domain.SaleLine{{ItemName: "Hay Bale", Qty: 1, UnitPriceCents: 125000}},
		SubtotalCents: 125000,
		TotalCents:    125000,
		CreatedAt:     time.Now().UTC(),
	}

	receipt := RenderReceipt(tx, domain.SystemSettings{})
	if strings.Contains(receipt.PreviewText, "Discount") {
		t.Fatalf("zero discount must not print a discount line")
	}
	if !strings.Contains(receipt.PreviewText, "AgroPOS") {
		t.Fatalf("empty company name must fall back to default header")
	}
}
