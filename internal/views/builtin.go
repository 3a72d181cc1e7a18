// ABOUTME: Built-in view modules backed by embedded html templates
// ABOUTME: Login, home, dashboard and the admin screens over the user directory

package views

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"

	"github.com/2389/bizhub/internal/loader"
	"github.com/2389/bizhub/internal/routes"
	"github.com/2389/bizhub/internal/store"
)

// dataFunc loads the per-request data a built-in template renders.
type dataFunc func(ctx context.Context, req loader.Request) (any, error)

type pageData struct {
	loader.Request
	Data any
}

func templateModule(file string, data dataFunc) loader.Factory {
	return func(ctx context.Context) (loader.Module, error) {
		tmpl, err := template.New(file).ParseFS(templateFS, "templates/"+file)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", file, err)
		}
		return loader.ModuleFunc(func(ctx context.Context, req loader.Request) (loader.Content, error) {
			pd := pageData{Request: req}
			if data != nil {
				d, err := data(ctx, req)
				if err != nil {
					return loader.Content{}, err
				}
				pd.Data = d
			}
			var buf bytes.Buffer
			if err := tmpl.Execute(&buf, pd); err != nil {
				return loader.Content{}, fmt.Errorf("rendering %s: %w", file, err)
			}
			return loader.Content{Body: template.HTML(buf.String())}, nil
		}), nil
	}
}

type tile struct {
	Label   string
	Href    string
	Feature string
}

var dashboardTiles = []tile{
	{"Fornecedores", "/minha-area/fornecedores", routes.FeatureSuppliers},
	{"Materiais", "/minha-area/materiais", routes.FeatureMaterials},
	{"Ferramentas", "/minha-area/ferramentas", routes.FeatureTools},
	{"Templates", "/minha-area/templates", routes.FeatureTemplates},
	{"Prompts", "/minha-area/prompts", routes.FeaturePrompts},
	{"Produtos", "/minha-area/produtos", routes.FeatureProducts},
	{"Agente de anúncios", "/agentes/anuncios", routes.FeatureAgents},
	{"Simulador de financiamento", "/simuladores/financiamento", routes.FeatureSimulators},
	{"Administração", "/admin", routes.FeatureAdminPanel},
}

func dashboardData(_ context.Context, req loader.Request) (any, error) {
	var tiles []tile
	for _, t := range dashboardTiles {
		if req.Allows(t.Feature) {
			tiles = append(tiles, t)
		}
	}
	return tiles, nil
}

type userRow struct {
	User  *store.User
	Roles []store.RoleName
}

func (c *Catalog) adminUsersData(ctx context.Context, _ loader.Request) (any, error) {
	users, err := c.dir.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	rows := make([]userRow, 0, len(users))
	for _, u := range users {
		roles, err := c.dir.ListRoles(ctx, u.ID)
		if err != nil {
			return nil, fmt.Errorf("listing roles for %s: %w", u.ID, err)
		}
		rows = append(rows, userRow{User: u, Roles: roles})
	}
	return rows, nil
}

func (c *Catalog) adminUserData(ctx context.Context, req loader.Request) (any, error) {
	u, err := c.dir.GetUser(ctx, req.Params["id"])
	if errors.Is(err, store.ErrUserNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	roles, err := c.dir.ListRoles(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("listing roles: %w", err)
	}
	return &userRow{User: u, Roles: roles}, nil
}

func (c *Catalog) adminGrantsData(ctx context.Context, _ loader.Request) (any, error) {
	grants, err := c.dir.ListGrants(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing grants: %w", err)
	}
	return grants, nil
}
