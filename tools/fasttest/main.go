// fasttest 在内存仓储上跑路由场景，不依赖 MySQL/Redis/lmstfy
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"khaacho/dispatch/internal/app"
	"khaacho/dispatch/internal/business/routing"
	"khaacho/dispatch/internal/collab"
	"khaacho/dispatch/pkg/config"
	"khaacho/dispatch/pkg/entity"
	"khaacho/dispatch/pkg/infra/memory"
	"khaacho/dispatch/pkg/logger"
)

var (
	configPath   = flag.String("config", "./config/worker.yaml", "配置文件路径")
	testcasePath = flag.String("testcase", "./tools/fasttest/testcase/routing.json", "测试用例路径")
)

// Suite 测试用例文件
type Suite struct {
	Vendors []VendorSeed `json:"vendors"`
	Cases   []TestCase   `json:"cases"`
}

// VendorSeed 供应商与商品报价
type VendorSeed struct {
	ID        string  `json:"id"`
	Rating    float64 `json:"rating"`
	ProductID string  `json:"product_id"`
	Price     string  `json:"price"`
	Stock     int     `json:"stock"`
}

// TestCase 一个订单的脚本
type TestCase struct {
	OrderID  string   `json:"order_id"`
	Product  string   `json:"product_id"`
	Quantity int      `json:"quantity"`
	Steps    []string `json:"steps"` // accept | reject | timeout
	Expect   string   `json:"expect"`
}

type printNotifier struct{}

func (printNotifier) NotifyVendor(ctx context.Context, vendorID string, summary *collab.OrderSummary) error {
	fmt.Printf("    -> notify %s: order=%s attempt=%d\n", vendorID, summary.OrderID, summary.Attempt)
	return nil
}

func main() {
	flag.Parse()

	fmt.Println("========================================")
	fmt.Println("  FastTest - Dispatch 路由快速测试工具")
	fmt.Println("========================================")

	// 1. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg.Balancer.WorkingHours.Enabled = false

	// 2. 加载测试用例
	suite, err := loadSuite(*testcasePath)
	if err != nil {
		fmt.Printf("Failed to load test cases: %v\n", err)
		os.Exit(1)
	}

	// 3. 内存仓储 + 可拨动时钟
	ctx := context.Background()
	clock := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	store := memory.NewStore()
	if err := seed(ctx, store, suite.Vendors, clock); err != nil {
		fmt.Printf("Failed to seed vendors: %v\n", err)
		os.Exit(1)
	}
	a, err := app.NewWithStore(cfg, store, app.Collaborators{
		Notifier: printNotifier{},
		Ledger:   memory.NewLedger(store),
	}, now, logger.NewNop())
	if err != nil {
		fmt.Printf("Failed to assemble: %v\n", err)
		os.Exit(1)
	}

	// 4. 执行测试用例
	passed, failed := 0, 0
	for i, tc := range suite.Cases {
		fmt.Printf("\n[Test %d/%d] OrderID=%s\n", i+1, len(suite.Cases), tc.OrderID)
		status, err := runCase(ctx, a, tc, func(d time.Duration) { clock = clock.Add(d) })
		switch {
		case err != nil:
			fmt.Printf("  FAILED: %v\n", err)
			failed++
		case status != tc.Expect:
			fmt.Printf("  FAILED: final status %s, expect %s\n", status, tc.Expect)
			failed++
		default:
			fmt.Printf("  PASSED: %s\n", status)
			passed++
		}
	}

	// 5. 输出测试汇总
	fmt.Println("\n========================================")
	fmt.Printf("Total: %d, Passed: %d, Failed: %d\n", len(suite.Cases), passed, failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func loadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read testcase file: %w", err)
	}
	var suite Suite
	if err := json.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("failed to unmarshal testcase: %w", err)
	}
	return &suite, nil
}

func seed(ctx context.Context, store *memory.Store, vendors []VendorSeed, at time.Time) error {
	for _, v := range vendors {
		price, err := decimal.NewFromString(v.Price)
		if err != nil {
			return fmt.Errorf("vendor %s price: %w", v.ID, err)
		}
		if err := store.Vendors().SaveVendor(ctx, &entity.Vendor{
			ID: v.ID, Name: v.ID, Approved: true, Active: true, Rating: v.Rating, Timezone: "UTC",
			CreatedAt: at, UpdatedAt: at,
		}); err != nil {
			return err
		}
		if err := store.Vendors().SaveProduct(ctx, &entity.VendorProduct{
			VendorID: v.ID, ProductID: v.ProductID, Price: price, Stock: v.Stock, Available: true, UpdatedAt: at,
		}); err != nil {
			return err
		}
	}
	return nil
}

func runCase(ctx context.Context, a *app.App, tc TestCase, advance func(time.Duration)) (string, error) {
	out, err := a.Orchestrator.SubmitOrderForRouting(ctx, &routing.SubmitRequest{
		OrderID:    tc.OrderID,
		RetailerID: "fasttest",
		Items:      []routing.OrderLine{{ProductID: tc.Product, Quantity: tc.Quantity}},
	})
	if err != nil {
		return "", err
	}
	fmt.Printf("  submit: %s vendor=%s\n", out.Status, out.VendorID)

	for _, step := range tc.Steps {
		switch step {
		case "accept", "reject":
			out, err = a.Orchestrator.HandleVendorResponse(ctx, &routing.VendorResponse{
				OrderID:  tc.OrderID,
				VendorID: out.VendorID,
				Accepted: step == "accept",
				Reason:   "fasttest",
			})
		case "timeout":
			advance(time.Duration(a.Config.Routing.ResponseDeadlineMinutes+1) * time.Minute)
			if _, err = a.Orchestrator.RunRoutingTimeoutSweep(ctx); err == nil {
				var status *routing.RoutingStatus
				status, err = a.Orchestrator.GetRoutingStatus(ctx, tc.OrderID)
				if err == nil {
					out = &routing.Outcome{OrderID: tc.OrderID, Status: status.Order.Status}
					if status.ActiveRetry != nil {
						out.VendorID = status.ActiveRetry.VendorID
					}
				}
			}
		default:
			return "", fmt.Errorf("unknown step %q", step)
		}
		if err != nil {
			return "", fmt.Errorf("step %s: %w", step, err)
		}
		fmt.Printf("  %s: %s vendor=%s\n", step, out.Status, out.VendorID)
	}

	status, err := a.Orchestrator.GetRoutingStatus(ctx, tc.OrderID)
	if err != nil {
		return "", err
	}
	return status.Order.Status, nil
}
