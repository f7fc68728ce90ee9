package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"dianping/internal/cache"
	"dianping/internal/config"
	"dianping/internal/middleware"
	"dianping/internal/model"
	"dianping/internal/seckill"
	rediskey "dianping/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, db *gorm.DB, rdb *rd.Client, cc *cache.Client, svc *seckill.Service, cfg config.AppConfig) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})
	// Shops
	r.POST("/api/shops", createShop(db))
	r.GET("/api/shops/:id", getShop(db, cc, cfg.ShopCacheTTL))
	r.GET("/api/shops/hot/:id", getHotShop(db, cc, cfg.HotShopTTL))
	r.PUT("/api/shops/:id", updateShop(db, cc))
	r.POST("/api/shops/warm/:id", warmShop(db, cc, cfg.HotShopTTL))
	// Seckill
	r.POST("/api/vouchers", createVoucher(svc))
	r.GET("/api/vouchers/:id/stock", getStock(svc))
	r.POST("/api/vouchers/:id/seckill", middleware.RedisRateLimit(rdb, cfg.BuyRateLimit, cfg.BuyRateWindow), seckillVoucher(svc))
	r.GET("/api/orders/:id", getOrder(svc))
}

// shopFromDB 构造商铺的数据库回源函数，查不到时返回 (nil, nil)。
func shopFromDB(db *gorm.DB) func(ctx context.Context, id uint64) (*model.Shop, error) {
	return func(ctx context.Context, id uint64) (*model.Shop, error) {
		var shop model.Shop
		err := db.WithContext(ctx).First(&shop, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("load shop %d: %w", id, err)
		}
		return &shop, nil
	}
}

// createShop 新建商铺。
func createShop(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Name     string `json:"name" binding:"required"`
			Address  string `json:"address"`
			AvgPrice int64  `json:"avg_price" binding:"omitempty,min=0"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		s := &model.Shop{Name: req.Name, Address: req.Address, AvgPrice: req.AvgPrice}
		if err := db.Create(s).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": s})
	}
}

// getShop 商铺查询，走空值缓存（防穿透）。
func getShop(db *gorm.DB, cc *cache.Client, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "商铺ID无效"})
			return
		}
		shop, err := cache.FetchWithPassThrough(c.Request.Context(), cc, rediskey.CacheShopPrefix, id,
			shopFromDB(db), ttl)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		if shop == nil {
			c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "商铺不存在"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": shop})
	}
}

// getHotShop 热点商铺查询，走逻辑过期（防击穿）。
// 数据需先通过 warm 接口预热；缓存查不到视为不存在。
func getHotShop(db *gorm.DB, cc *cache.Client, logicalTTL time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "商铺ID无效"})
			return
		}
		shop, err := cache.FetchWithLogicalExpire(c.Request.Context(), cc, rediskey.CacheShopPrefix, rediskey.LockShopPrefix, id,
			shopFromDB(db), logicalTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		if shop == nil {
			c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "商铺不存在"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": shop})
	}
}

// updateShop 更新商铺：先改数据库，再删缓存（缓存下次读取时回填）。
func updateShop(db *gorm.DB, cc *cache.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "商铺ID无效"})
			return
		}
		var req struct {
			Name     string `json:"name"`
			Address  string `json:"address"`
			AvgPrice *int64 `json:"avg_price"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}

		updates := map[string]any{}
		if req.Name != "" {
			updates["name"] = req.Name
		}
		if req.Address != "" {
			updates["address"] = req.Address
		}
		if req.AvgPrice != nil {
			updates["avg_price"] = *req.AvgPrice
		}
		if len(updates) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "没有需要更新的字段"})
			return
		}

		res := db.Model(&model.Shop{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": res.Error.Error()})
			return
		}
		if res.RowsAffected == 0 {
			c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "商铺不存在"})
			return
		}
		// 先库后缓存：删除失败只会造成短暂不一致，由 TTL 兜底
		if err := cc.Delete(c.Request.Context(), rediskey.CacheShopPrefix+strconv.FormatUint(id, 10)); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "更新成功"})
	}
}

// warmShop 将商铺预热进缓存并打上逻辑过期时间，供热点查询接口使用。
func warmShop(db *gorm.DB, cc *cache.Client, logicalTTL time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "商铺ID无效"})
			return
		}
		var shop model.Shop
		if err := db.First(&shop, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "商铺不存在"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		key := rediskey.CacheShopPrefix + strconv.FormatUint(id, 10)
		if err := cc.SetWithLogicalExpire(c.Request.Context(), key, &shop, logicalTTL); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "预热成功"})
	}
}

// createVoucher 新建秒杀券（含时间窗校验），并把库存预热到 Redis。
func createVoucher(svc *seckill.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Title     string `json:"title" binding:"required"`
			PayValue  int64  `json:"pay_value" binding:"required,min=1"`
			Stock     int64  `json:"stock" binding:"required,min=1"`
			BeginTime string `json:"begin_time" binding:"required"`
			EndTime   string `json:"end_time" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		begin, err := time.Parse(time.RFC3339, req.BeginTime)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "begin_time 格式错误，请用 RFC3339"})
			return
		}
		end, err := time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "end_time 格式错误，请用 RFC3339"})
			return
		}
		if !end.After(begin) {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "end_time 必须晚于 begin_time"})
			return
		}
		v := &model.SeckillVoucher{
			Title:     req.Title,
			PayValue:  req.PayValue,
			Stock:     req.Stock,
			BeginTime: begin,
			EndTime:   end,
		}
		if err := svc.AddVoucher(c.Request.Context(), v); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": v})
	}
}

// getStock 查询 Redis 中的实时库存。
func getStock(svc *seckill.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "优惠券ID无效"})
			return
		}
		stock, err := svc.RedisStock(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"stock": stock}})
	}
}

// seckillVoucher 秒杀下单入口。
// 活动窗口在这里校验；库存与一人一单的判定全部在 Redis 脚本内原子完成，
// 成功响应带预生成的订单号，落库由后台 Worker 异步执行。
func seckillVoucher(svc *seckill.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		voucherID, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "优惠券ID无效"})
			return
		}
		var req struct {
			UserID uint64 `json:"user_id" binding:"required,min=1"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}

		v, err := svc.GetVoucher(c.Request.Context(), voucherID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		if v == nil {
			c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "优惠券不存在"})
			return
		}
		now := time.Now()
		if now.Before(v.BeginTime) {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "秒杀还未开始"})
			return
		}
		if now.After(v.EndTime) {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "秒杀已经结束"})
			return
		}

		result, err := svc.SeckillVoucher(c.Request.Context(), voucherID, req.UserID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		switch result.Code {
		case seckill.Admitted:
			c.JSON(http.StatusOK, gin.H{
				"code": 0,
				"data": gin.H{"order_id": strconv.FormatInt(result.OrderID, 10)},
			})
		case seckill.StockExhausted:
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "库存不足"})
		case seckill.AlreadyPurchased:
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "不能重复下单"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": "unknown admission code"})
		}
	}
}

// getOrder 根据订单号查询异步落库结果。
// 订单还在队列里时返回 pending，客户端可稍后重试。
func getOrder(svc *seckill.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "订单ID无效"})
			return
		}
		order, err := svc.GetOrder(c.Request.Context(), orderID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		if order == nil {
			c.JSON(http.StatusOK, gin.H{
				"code": 0,
				"data": gin.H{"status": "pending", "order_id": strconv.FormatInt(orderID, 10)},
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"status": "created", "order": order}})
	}
}
