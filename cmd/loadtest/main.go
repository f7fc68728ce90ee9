package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Result 记录单次请求的 HTTP 结果，便于聚合统计。
type Result struct {
	Status int
	Body   string
	Err    error
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	voucherID := flag.Int("voucher", 1, "voucher id")
	stockCheck := flag.Bool("stock", true, "check redis stock after test")

	// 超卖测试参数：200 个用户并发抢购
	nUsers := flag.Int("users", 200, "distinct users")
	concurrency := flag.Int("c", 50, "max concurrency")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}

	// 1) 不超卖测试：不同 user 并发
	fmt.Printf("start oversell test: voucher=%d users=%d concurrency=%d\n", *voucherID, *nUsers, *concurrency)
	results := runSeckill(client, *baseURL, *voucherID, *nUsers, *concurrency)
	printSummary("oversell", results)

	if *stockCheck {
		stock, err := getStock(client, *baseURL, *voucherID)
		if err != nil {
			fmt.Println("stock check err:", err)
		} else {
			fmt.Println("final redis stock:", stock)
		}
	}

	// 2) 一人一单测试：同一个 user 重复抢
	fmt.Println("start duplicate-user test")
	dupResults := make([]Result, 0, 5)
	for i := 0; i < 5; i++ {
		dupResults = append(dupResults, seckillOnce(client, *baseURL, *voucherID, 1))
	}
	printSummary("duplicate", dupResults)
}

// runSeckill 以受限并发为 nUsers 个不同用户各发一次抢购请求。
func runSeckill(client *http.Client, baseURL string, voucherID, nUsers, concurrency int) []Result {
	results := make([]Result, nUsers)
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i := 0; i < nUsers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			// user id 从 1 开始
			results[idx] = seckillOnce(client, baseURL, voucherID, uint64(idx+1))
		}(i)
	}
	wg.Wait()
	return results
}

func seckillOnce(client *http.Client, baseURL string, voucherID int, userID uint64) Result {
	payload, _ := json.Marshal(map[string]any{"user_id": userID})
	url := fmt.Sprintf("%s/api/vouchers/%d/seckill", baseURL, voucherID)
	resp, err := client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return Result{Status: resp.StatusCode, Body: string(body)}
}

func getStock(client *http.Client, baseURL string, voucherID int) (int64, error) {
	resp, err := client.Get(fmt.Sprintf("%s/api/vouchers/%d/stock", baseURL, voucherID))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	var out struct {
		Data struct {
			Stock int64 `json:"stock"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	return out.Data.Stock, nil
}

// printSummary 按状态码聚合，再按响应体区分业务失败原因。
func printSummary(name string, results []Result) {
	byStatus := map[int]int{}
	byReason := map[string]int{}
	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		byStatus[r.Status]++
		if r.Status != http.StatusOK {
			var out struct {
				Msg string `json:"msg"`
			}
			if json.Unmarshal([]byte(r.Body), &out) == nil && out.Msg != "" {
				byReason[out.Msg]++
			}
		}
	}
	fmt.Printf("[%s] total=%d errors=%d\n", name, len(results), errCount)
	for status, n := range byStatus {
		fmt.Printf("  status %d: %d\n", status, n)
	}
	for reason, n := range byReason {
		fmt.Printf("  reason %q: %d\n", reason, n)
	}
}
