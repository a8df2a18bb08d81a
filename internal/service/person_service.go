package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"posledger/internal/config"
	"posledger/internal/model"
	"posledger/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type PersonService struct {
	db              *gorm.DB
	cfg             *config.Config
	personRepo      *repository.PersonRepository
	transactionRepo *repository.TransactionRepository
	paymentRepo     *repository.PaymentRepository
	statement       *StatementService
	recorder        *Recorder
}

func NewPersonService(db *gorm.DB, cfg *config.Config, audit AuditSink) *PersonService {
	return &PersonService{
		db:              db,
		cfg:             cfg,
		personRepo:      repository.NewPersonRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		paymentRepo:     repository.NewPaymentRepository(db),
		statement:       NewStatementService(db),
		recorder:        NewRecorder(db, audit, cfg),
	}
}

type CreatePersonRequest struct {
	Name     string
	Role     string
	Phone    string
	Username string
	Password string
	Passcode string
}

type UpdatePersonRequest struct {
	Name     *string
	Phone    *string
	IsActive *bool
	Password *string
}

func hashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("生成密码哈希失败: %w", err)
	}
	return string(hash), nil
}

func (s *PersonService) Create(ctx context.Context, req *CreatePersonRequest) (*model.Person, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, validationError("姓名不能为空")
	}
	role := req.Role
	if role == "" {
		role = model.RoleCustomer
	}
	if !model.IsValidRole(role) {
		return nil, validationError("未知的角色: %s", role)
	}

	person := &model.Person{
		Name:     name,
		Role:     role,
		IsActive: true,
	}
	if phone := strings.TrimSpace(req.Phone); phone != "" {
		person.Phone = &phone
	}
	if username := strings.TrimSpace(req.Username); username != "" {
		if req.Password == "" {
			return nil, validationError("设置用户名时必须设置密码")
		}
		person.Username = &username
	}
	if req.Password != "" {
		hash, err := hashSecret(req.Password)
		if err != nil {
			return nil, err
		}
		person.PasswordHash = hash
	}
	if req.Passcode != "" {
		hash, err := hashSecret(req.Passcode)
		if err != nil {
			return nil, err
		}
		person.Passcode = &hash
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.personRepo.Create(ctx, tx, person); err != nil {
			return fmt.Errorf("创建人员失败: %w", err)
		}
		entry := &model.AuditLog{
			Action:      model.AuditActionCreate,
			Entity:      model.AuditEntityPerson,
			EntityID:    idString(person.ID),
			Description: fmt.Sprintf("Created %s %s", person.Role, person.Name),
			Changes: changesJSON(map[string]interface{}{
				"name":  person.Name,
				"role":  person.Role,
				"phone": person.Phone,
			}),
		}
		return s.recorder.Record(ctx, tx, entry, nil)
	})
	if err != nil {
		return nil, err
	}
	return person, nil
}

func (s *PersonService) Get(ctx context.Context, id int64) (*model.Person, error) {
	person, err := s.personRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, translate(err)
	}
	return person, nil
}

// List 人员列表及账务汇总，role 为空时返回全部
func (s *PersonService) List(ctx context.Context, role string) ([]*model.PersonSummary, error) {
	if role != "" && !model.IsValidRole(role) {
		return nil, validationError("未知的角色: %s", role)
	}
	people, err := s.personRepo.ListByRole(ctx, nil, role)
	if err != nil {
		return nil, err
	}

	summaries := make([]*model.PersonSummary, 0, len(people))
	for _, p := range people {
		summary, err := s.statement.Summary(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// Update 修改姓名、电话、启用状态、密码
// 改名不回写历史单据上的姓名快照，需要时执行 SyncNames
func (s *PersonService) Update(ctx context.Context, id int64, req *UpdatePersonRequest) (*model.Person, error) {
	var person *model.Person
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.personRepo.GetByID(ctx, tx, id)
		if err != nil {
			return translate(err)
		}

		updates := map[string]interface{}{}
		var changes []string
		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return validationError("姓名不能为空")
			}
			if name != current.Name {
				updates["name"] = name
				changes = append(changes, fmt.Sprintf("Name changed from %q to %q", current.Name, name))
			}
		}
		if req.Phone != nil {
			phone := strings.TrimSpace(*req.Phone)
			old := ""
			if current.Phone != nil {
				old = *current.Phone
			}
			if phone != old {
				if phone == "" {
					updates["phone"] = nil
				} else {
					updates["phone"] = phone
				}
				changes = append(changes, fmt.Sprintf("Phone changed from %q to %q", old, phone))
			}
		}
		if req.IsActive != nil && *req.IsActive != current.IsActive {
			updates["is_active"] = *req.IsActive
			changes = append(changes, fmt.Sprintf("Active changed from %t to %t", current.IsActive, *req.IsActive))
		}
		if req.Password != nil && *req.Password != "" {
			hash, err := hashSecret(*req.Password)
			if err != nil {
				return err
			}
			updates["password_hash"] = hash
			changes = append(changes, "Password changed")
		}

		if len(changes) > 0 {
			if err := s.personRepo.Update(ctx, tx, id, updates); err != nil {
				return translate(err)
			}
			entry := &model.AuditLog{
				Action:      model.AuditActionUpdate,
				Entity:      model.AuditEntityPerson,
				EntityID:    idString(id),
				Description: fmt.Sprintf("Edited %s: %s", current.Name, strings.Join(changes, "; ")),
				Changes:     changesJSON(changes),
			}
			if err := s.recorder.Record(ctx, tx, entry, nil); err != nil {
				return err
			}
		}

		person, err = s.personRepo.GetByID(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return person, nil
}

// Delete 删除人员，历史单据保留姓名快照
func (s *PersonService) Delete(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		person, err := s.personRepo.GetByID(ctx, tx, id)
		if err != nil {
			return translate(err)
		}
		if err := s.personRepo.Delete(ctx, tx, id); err != nil {
			return translate(err)
		}
		entry := &model.AuditLog{
			Action:      model.AuditActionDelete,
			Entity:      model.AuditEntityPerson,
			EntityID:    idString(id),
			Description: fmt.Sprintf("Deleted %s %s", person.Role, person.Name),
		}
		return s.recorder.Record(ctx, tx, entry, nil)
	})
}

// ==================== 登录 ====================

type LoginRequest struct {
	Username string
	Password string
	Passcode string
}

type LoginResult struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
	Person    *model.Person `json:"person"`
}

// Claims token 载荷
type Claims struct {
	PersonID int64  `json:"pid"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Login 用户名+密码，或快捷登录码；顾客不允许登录
func (s *PersonService) Login(ctx context.Context, req *LoginRequest) (*LoginResult, error) {
	person, err := s.authenticate(ctx, req)
	if err != nil {
		return nil, err
	}
	if !person.CanLogin() {
		return nil, ErrUnauthorized
	}

	now := time.Now().UTC()
	expiresAt := now.Add(s.cfg.Auth.TokenTTL())
	claims := Claims{
		PersonID: person.ID,
		Name:     person.Name,
		Role:     person.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   idString(person.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("签发 token 失败: %w", err)
	}

	log.Printf("[PersonService] 登录成功: id=%d, name=%s", person.ID, person.Name)
	return &LoginResult{Token: token, ExpiresAt: expiresAt, Person: person}, nil
}

func (s *PersonService) authenticate(ctx context.Context, req *LoginRequest) (*model.Person, error) {
	if username := strings.TrimSpace(req.Username); username != "" {
		person, err := s.personRepo.GetByUsername(ctx, username)
		if err != nil {
			if errors.Is(err, repository.ErrPersonNotFound) {
				return nil, ErrUnauthorized
			}
			return nil, err
		}
		if person.PasswordHash == "" ||
			bcrypt.CompareHashAndPassword([]byte(person.PasswordHash), []byte(req.Password)) != nil {
			return nil, ErrUnauthorized
		}
		return person, nil
	}

	if req.Passcode != "" {
		people, err := s.personRepo.ListWithPasscode(ctx)
		if err != nil {
			return nil, err
		}
		for _, p := range people {
			if bcrypt.CompareHashAndPassword([]byte(*p.Passcode), []byte(req.Passcode)) == nil {
				return p, nil
			}
		}
	}
	return nil, ErrUnauthorized
}

// ParseToken 校验 token 并返回载荷
func (s *PersonService) ParseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.Auth.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

// ==================== 姓名对账 ====================

type NameSyncResult struct {
	Refreshed int `json:"refreshed"` // 快照与人员姓名不一致，已刷新
	Linked    int `json:"linked"`    // 未关联的快照匹配到已有顾客
	Created   int `json:"created"`   // 未关联的快照新建了顾客
	Skipped   int `json:"skipped"`   // 匹配到多个顾客，未处理
}

func (r NameSyncResult) Changed() bool {
	return r.Refreshed+r.Linked+r.Created > 0
}

// customerIndex 按 model.FoldName 索引顾客，与人员匹配使用同一折叠规则
type customerIndex struct {
	byID   map[int64]*model.Person
	byName map[string][]*model.Person
}

func newCustomerIndex(people []*model.Person) *customerIndex {
	idx := &customerIndex{
		byID:   make(map[int64]*model.Person, len(people)),
		byName: make(map[string][]*model.Person, len(people)),
	}
	for _, p := range people {
		idx.add(p)
	}
	return idx
}

func (idx *customerIndex) add(p *model.Person) {
	idx.byID[p.ID] = p
	if p.Role == model.RoleCustomer {
		k := model.FoldName(p.Name)
		idx.byName[k] = append(idx.byName[k], p)
	}
}

// SyncNames 姓名快照对账，可重复执行
//   - 已关联人员的单据：快照刷新为人员当前姓名
//   - 未关联但有姓名快照的单据：按姓名（忽略大小写）关联到唯一顾客，没有则新建
func (s *PersonService) SyncNames(ctx context.Context) (*NameSyncResult, error) {
	result := &NameSyncResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		people, err := s.personRepo.ListByRole(ctx, tx, "")
		if err != nil {
			return err
		}
		idx := newCustomerIndex(people)

		resolve := func(personID *int64, snapshot string) (*model.Person, error) {
			if personID != nil {
				if p, ok := idx.byID[*personID]; ok && p.Name != snapshot {
					result.Refreshed++
					return p, nil
				}
				return nil, nil
			}
			if strings.TrimSpace(snapshot) == "" {
				return nil, nil
			}
			matches := idx.byName[model.FoldName(snapshot)]
			switch len(matches) {
			case 0:
				p := &model.Person{Name: strings.TrimSpace(snapshot), Role: model.RoleCustomer, IsActive: true}
				if err := s.personRepo.Create(ctx, tx, p); err != nil {
					return nil, fmt.Errorf("创建顾客失败: %w", err)
				}
				idx.add(p)
				result.Created++
				return p, nil
			case 1:
				result.Linked++
				return matches[0], nil
			}
			result.Skipped++
			return nil, nil
		}

		transactions, err := s.transactionRepo.ListForNameSync(ctx, tx)
		if err != nil {
			return err
		}
		for _, t := range transactions {
			p, err := resolve(t.PersonID, t.CustomerName)
			if err != nil {
				return err
			}
			if p == nil {
				continue
			}
			if err := s.transactionRepo.Update(ctx, tx, t.ID, map[string]interface{}{
				"person_id":     p.ID,
				"customer_name": p.Name,
			}); err != nil {
				return translate(err)
			}
		}

		payments, err := s.paymentRepo.ListForNameSync(ctx, tx)
		if err != nil {
			return err
		}
		for _, pay := range payments {
			p, err := resolve(pay.PersonID, pay.CustomerName)
			if err != nil {
				return err
			}
			if p == nil {
				continue
			}
			if err := s.paymentRepo.Update(ctx, tx, pay.ID, map[string]interface{}{
				"person_id":     p.ID,
				"customer_name": p.Name,
			}); err != nil {
				return translate(err)
			}
		}

		if !result.Changed() {
			return nil
		}
		entry := &model.AuditLog{
			Action:   model.AuditActionSync,
			Entity:   model.AuditEntityPerson,
			EntityID: "",
			Description: fmt.Sprintf("Name sync: %d refreshed, %d linked, %d created, %d skipped",
				result.Refreshed, result.Linked, result.Created, result.Skipped),
			Changes: changesJSON(result),
		}
		return s.recorder.Record(ctx, tx, entry, nil)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
