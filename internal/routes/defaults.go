// ABOUTME: Built-in route table for the portal
// ABOUTME: Specific patterns precede the catch-alls that would also match them

package routes

import "github.com/2389/bizhub/internal/layout"

// Feature codes gating the built-in table.
const (
	FeatureSuppliers   = "myarea.suppliers"
	FeatureMaterials   = "myarea.materials"
	FeatureTools       = "myarea.tools"
	FeatureTemplates   = "myarea.templates"
	FeaturePrompts     = "myarea.prompts"
	FeatureProducts    = "myarea.products"
	FeatureAgents      = "ai.agents"
	FeatureSimulators  = "simulators.use"
	FeatureAdminPanel  = "admin.panel"
	FeatureAdminUsers  = "admin.users"
	FeatureAdminGrants = "admin.permissions"
)

// DefaultEntries returns the built-in table.
func DefaultEntries() []Entry {
	return []Entry{
		{Pattern: "/", Module: "builtin:home", Title: "Início", Preload: true},
		{Pattern: "/login", Module: "builtin:login", Layout: layout.None, Title: "Entrar", Preload: true},

		{Pattern: "/minha-area", Module: "builtin:dashboard", Protected: true, Title: "Minha área", Preload: true},
		{Pattern: "/minha-area/fornecedores", Module: "md:minha-area/fornecedores", Protected: true, Feature: FeatureSuppliers, Title: "Fornecedores"},
		{Pattern: "/minha-area/fornecedores/:id", Module: "md:minha-area/fornecedor", Protected: true, Feature: FeatureSuppliers, Title: "Fornecedor"},
		{Pattern: "/minha-area/materiais", Module: "md:minha-area/materiais", Protected: true, Feature: FeatureMaterials, Title: "Materiais"},
		{Pattern: "/minha-area/ferramentas", Module: "md:minha-area/ferramentas", Protected: true, Feature: FeatureTools, Title: "Ferramentas"},
		{Pattern: "/minha-area/templates", Module: "md:minha-area/templates", Protected: true, Feature: FeatureTemplates, Title: "Templates"},
		{Pattern: "/minha-area/prompts", Module: "md:minha-area/prompts", Protected: true, Feature: FeaturePrompts, Title: "Prompts"},
		{Pattern: "/minha-area/produtos/:id?", Module: "md:minha-area/produtos", Protected: true, Feature: FeatureProducts, Title: "Produtos"},

		{Pattern: "/agentes/:agent", Module: "md:agentes/agente", Protected: true, Feature: FeatureAgents, Title: "Agentes"},
		{Pattern: "/simuladores/:simulator", Module: "md:simuladores/simulador", Protected: true, Feature: FeatureSimulators, Title: "Simuladores"},

		{Pattern: "/hub", Module: "md:hub/index", Title: "Hub"},
		{Pattern: "/hub/parceiros", Module: "md:hub/parceiros", Title: "Parceiros"},
		{Pattern: "/hub/parceiros/:id", Module: "md:hub/parceiro", Title: "Parceiro"},
		{Pattern: "/hub/:section", Module: "md:hub/secao", Title: "Hub"},

		{Pattern: "/admin", Module: "md:admin/index", Protected: true, Feature: FeatureAdminPanel, Layout: layout.Admin, Title: "Administração"},
		{Pattern: "/admin/usuarios", Module: "builtin:admin-users", Protected: true, Feature: FeatureAdminUsers, Layout: layout.Admin, Title: "Usuários"},
		{Pattern: "/admin/usuarios/:id", Module: "builtin:admin-user", Protected: true, Feature: FeatureAdminUsers, Layout: layout.Admin, Title: "Usuário"},
		{Pattern: "/admin/permissoes", Module: "builtin:admin-grants", Protected: true, Feature: FeatureAdminGrants, Layout: layout.Admin, Title: "Permissões"},
	}
}

// DefaultTable builds the registry for DefaultEntries.
func DefaultTable(opts ...Option) (*Registry, error) {
	return New(DefaultEntries(), opts...)
}
