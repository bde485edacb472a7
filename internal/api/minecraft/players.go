package minecraft

import (
	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/modl-gg/panel-core/internal/models"
	"github.com/modl-gg/panel-core/internal/punishment"
	"github.com/modl-gg/panel-core/internal/registry"
	"github.com/modl-gg/panel-core/internal/status"
)

type disconnectRequest struct {
	MinecraftUUID string `json:"minecraftUuid"`
}

func (h *Handlers) handleDisconnect(c *gin.Context) {
	var req disconnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := validation.ValidateStruct(&req,
		validation.Field(&req.MinecraftUUID, validation.Required),
	); err != nil {
		h.fail(c, err)
		return
	}
	now := h.now()
	err := h.store(c).UpdatePlayer(c.Request.Context(), req.MinecraftUUID, func(p *models.Player) error {
		markOffline(p, now)
		t := now
		p.Data.LastDisconnect = &t
		return nil
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, nil)
}

func (h *Handlers) handlePlayerGet(c *gin.Context) {
	uuid := c.Query("minecraftUuid")
	if uuid == "" {
		badRequest(c, validation.NewError("validation_required", "minecraftUuid is required"))
		return
	}
	store := h.store(c)
	player, err := store.GetPlayer(c.Request.Context(), uuid)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respondProfile(c, player)
}

func (h *Handlers) handlePlayerByName(c *gin.Context) {
	name := c.Query("username")
	if name == "" {
		badRequest(c, validation.NewError("validation_required", "username is required"))
		return
	}
	store := h.store(c)
	player, err := store.FindPlayerByUsername(c.Request.Context(), name)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respondProfile(c, player)
}

// respondProfile returns the full player document plus its derived status.
func (h *Handlers) respondProfile(c *gin.Context, player *models.Player) {
	reg := h.registries.Get(c.Request.Context(), h.store(c))
	ok(c, gin.H{
		"player": player,
		"status": status.Calculate(player, reg, h.now()),
	})
}

// linkedAccount is one row of the linked-accounts view.
type linkedAccount struct {
	MinecraftUUID string `json:"minecraftUuid"`
	Username      string `json:"username"`
	ActiveBans    int    `json:"activeBans"`
	ActiveMutes   int    `json:"activeMutes"`
}

func (h *Handlers) handleLinkedAccounts(c *gin.Context) {
	store := h.store(c)
	ctx := c.Request.Context()
	player, err := store.GetPlayer(ctx, c.Param("uuid"))
	if err != nil {
		h.fail(c, err)
		return
	}
	reg := h.registries.Get(ctx, store)
	now := h.now()

	accounts := []linkedAccount{}
	for _, uuid := range player.Data.LinkedAccounts {
		other, err := store.GetPlayer(ctx, uuid)
		if err != nil {
			h.log.Warn().Err(err).Str("linked", uuid).Msg("linked account lookup failed")
			continue
		}
		row := linkedAccount{MinecraftUUID: uuid, Username: other.CurrentUsername()}
		for _, pun := range other.Punishments {
			if !punishment.IsActive(pun, now) {
				continue
			}
			switch reg.TypeKind(pun.TypeOrdinal) {
			case registry.KindBan:
				row.ActiveBans++
			case registry.KindMute:
				row.ActiveMutes++
			}
		}
		accounts = append(accounts, row)
	}
	ok(c, gin.H{"linkedAccounts": accounts})
}

type noteCreateRequest struct {
	MinecraftUUID string `json:"minecraftUuid"`
	IssuerName    string `json:"issuerName"`
	Text          string `json:"text"`
	PunishmentID  string `json:"punishmentId"` // optional: attach to a punishment
}

func (r noteCreateRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.MinecraftUUID, validation.Required),
		validation.Field(&r.IssuerName, validation.Required),
		validation.Field(&r.Text, validation.Required),
	)
}

func (h *Handlers) handleNoteCreate(c *gin.Context) {
	var req noteCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.fail(c, err)
		return
	}
	now := h.now()
	err := h.store(c).UpdatePlayer(c.Request.Context(), req.MinecraftUUID, func(p *models.Player) error {
		if req.PunishmentID != "" {
			pun := p.FindPunishment(req.PunishmentID)
			if pun == nil {
				return validation.NewError("validation_unknown", "unknown punishment id")
			}
			pun.AddNote(req.Text, req.IssuerName, now)
			return nil
		}
		p.Notes = append(p.Notes, models.Note{Text: req.Text, IssuerName: req.IssuerName, Date: now})
		return nil
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	created(c, nil)
}

// handlePunishmentTypes returns the tenant-defined catalogue game servers use
// to render command completion and descriptions.
func (h *Handlers) handlePunishmentTypes(c *gin.Context) {
	reg := h.registries.Get(c.Request.Context(), h.store(c))
	types := reg.DynamicTypes()
	if types == nil {
		types = []models.PunishmentTypeConfig{}
	}
	ok(c, gin.H{"punishmentTypes": types})
}

// staffPermissions is one row of the staff-permissions view.
type staffPermissions struct {
	Username          string   `json:"username"`
	MinecraftUsername string   `json:"minecraftUsername,omitempty"`
	Role              string   `json:"role"`
	Permissions       []string `json:"permissions"`
}

func (h *Handlers) handleStaffPermissions(c *gin.Context) {
	staff, err := h.store(c).ListStaff(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]staffPermissions, 0, len(staff))
	for _, s := range staff {
		out = append(out, staffPermissions{
			Username:          s.Username,
			MinecraftUsername: s.AssignedMinecraftUsername,
			Role:              s.Role,
			Permissions:       models.BasePermissions(s.Role),
		})
	}
	ok(c, gin.H{"staff": out})
}
