package database

// schemaObjects declares every enum, table, index, function and trigger
// the application needs, with explicit dependencies. Bootstrap executes
// them in topological order.
var schemaObjects = []SchemaObject{
	{
		Name: "task_status",
		Kind: ObjectKindEnum,
		DDL: `DO $$ BEGIN
    CREATE TYPE task_status AS ENUM ('Waiting', 'Scheduled', 'Running', 'Complete', 'Failed');
EXCEPTION WHEN duplicate_object THEN NULL;
END $$`,
	},
	{
		Name: "operation_state",
		Kind: ObjectKindEnum,
		DDL: `DO $$ BEGIN
    CREATE TYPE operation_state AS ENUM ('Ready', 'Active');
EXCEPTION WHEN duplicate_object THEN NULL;
END $$`,
	},
	{
		Name: "loader_type",
		Kind: ObjectKindEnum,
		DDL: `DO $$ BEGIN
    CREATE TYPE loader_type AS ENUM ('Flat', 'Excel', 'MDB', 'DBF');
EXCEPTION WHEN duplicate_object THEN NULL;
END $$`,
	},
	{
		Name: "collect_type",
		Kind: ObjectKindEnum,
		DDL: `DO $$ BEGIN
    CREATE TYPE collect_type AS ENUM ('Download', 'Upload', 'Email', 'FOIA', 'Other');
EXCEPTION WHEN duplicate_object THEN NULL;
END $$`,
	},
	{
		Name: "roles",
		Kind: ObjectKindTable,
		DDL: `CREATE TABLE IF NOT EXISTS roles (
    name varchar(64) PRIMARY KEY,
    description text
)`,
		Seed: &SeedSpec{
			Table:   "roles",
			Columns: []string{"name", "description"},
			File:    "roles.csv",
		},
	},
	{
		Name:      "users",
		Kind:      ObjectKindTable,
		DependsOn: []string{"roles"},
		DDL: `CREATE TABLE IF NOT EXISTS users (
    user_id bigint GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
    username varchar(64) NOT NULL UNIQUE,
    password_hash varchar(100) NOT NULL,
    full_name varchar(255) NOT NULL,
    active boolean NOT NULL DEFAULT true
)`,
	},
	{
		Name:      "user_roles",
		Kind:      ObjectKindTable,
		DependsOn: []string{"users", "roles"},
		DDL: `CREATE TABLE IF NOT EXISTS user_roles (
    user_id bigint NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
    role_name varchar(64) NOT NULL REFERENCES roles(name) ON DELETE CASCADE,
    PRIMARY KEY (user_id, role_name)
)`,
	},
	{
		Name:      "workflow_operations",
		Kind:      ObjectKindTable,
		DependsOn: []string{"roles"},
		DDL: `CREATE TABLE IF NOT EXISTS workflow_operations (
    workflow_code varchar(20) PRIMARY KEY,
    operation_order integer NOT NULL,
    href varchar(255) NOT NULL,
    name varchar(100) NOT NULL,
    role varchar(64) NOT NULL REFERENCES roles(name)
)`,
		Seed: &SeedSpec{
			Table:   "workflow_operations",
			Columns: []string{"workflow_code", "operation_order", "href", "name", "role"},
			File:    "workflow_operations.csv",
		},
	},
	{
		Name:      "actions",
		Kind:      ObjectKindTable,
		DependsOn: []string{"roles", "operation_state"},
		DDL: `CREATE TABLE IF NOT EXISTS actions (
    action_oid bigint GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
    role varchar(64) NOT NULL REFERENCES roles(name),
    state operation_state NOT NULL,
    href varchar(255) NOT NULL,
    label varchar(100) NOT NULL
)`,
		Seed: &SeedSpec{
			Table:   "actions",
			Columns: []string{"role", "state", "href", "label"},
			File:    "actions.csv",
		},
	},
	{
		Name:      "tasks",
		Kind:      ObjectKindTable,
		DependsOn: []string{"workflow_operations"},
		DDL: `CREATE TABLE IF NOT EXISTS tasks (
    task_id bigint GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
    name varchar(100) NOT NULL,
    description text,
    task_class varchar(100) NOT NULL UNIQUE,
    workflow_code varchar(20) NOT NULL REFERENCES workflow_operations(workflow_code)
)`,
		Seed: &SeedSpec{
			Table:   "tasks",
			Columns: []string{"task_id", "name", "description", "task_class", "workflow_code"},
			File:    "tasks.csv",
		},
	},
	{
		Name:      "pipeline_runs",
		Kind:      ObjectKindTable,
		DependsOn: []string{"workflow_operations", "users", "operation_state"},
		DDL: `CREATE TABLE IF NOT EXISTS pipeline_runs (
    run_id bigint GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
    ds_id bigint NOT NULL,
    record_date date NOT NULL,
    workflow_operation varchar(20) NOT NULL REFERENCES workflow_operations(workflow_code),
    operation_state operation_state NOT NULL DEFAULT 'Ready',
    collection_user_id bigint REFERENCES users(user_id),
    load_user_id bigint REFERENCES users(user_id),
    check_user_id bigint REFERENCES users(user_id),
    qa_user_id bigint REFERENCES users(user_id)
)`,
	},
	{
		Name:      "pipeline_run_tasks",
		Kind:      ObjectKindTable,
		DependsOn: []string{"pipeline_runs", "tasks", "task_status"},
		DDL: `CREATE TABLE IF NOT EXISTS pipeline_run_tasks (
    pr_task_id bigint GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
    run_id bigint NOT NULL REFERENCES pipeline_runs(run_id) ON DELETE CASCADE,
    task_id bigint NOT NULL REFERENCES tasks(task_id),
    workflow_order integer NOT NULL,
    task_status task_status NOT NULL DEFAULT 'Waiting',
    task_running boolean NOT NULL DEFAULT false,
    task_complete boolean NOT NULL DEFAULT false,
    task_start timestamptz,
    task_completed timestamptz,
    task_message text,
    parent_task_id bigint REFERENCES pipeline_run_tasks(pr_task_id) ON DELETE CASCADE
)`,
	},
	{
		Name:      "pipeline_run_tasks_run_order",
		Kind:      ObjectKindIndex,
		DependsOn: []string{"pipeline_run_tasks"},
		DDL:       `CREATE INDEX IF NOT EXISTS pipeline_run_tasks_run_order ON pipeline_run_tasks (run_id, workflow_order)`,
	},
	{
		Name:      "source_tables",
		Kind:      ObjectKindTable,
		DependsOn: []string{"pipeline_runs", "loader_type", "collect_type"},
		DDL: `CREATE TABLE IF NOT EXISTS source_tables (
    st_oid bigint GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
    run_id bigint NOT NULL REFERENCES pipeline_runs(run_id) ON DELETE CASCADE,
    table_name varchar(500) NOT NULL,
    file_id varchar(10) NOT NULL,
    file_name varchar(500) NOT NULL,
    loader_type loader_type NOT NULL,
    sub_table varchar(500),
    delimiter varchar(1),
    qualified boolean NOT NULL DEFAULT false,
    encoding varchar(25) NOT NULL DEFAULT 'utf-8',
    collect_type collect_type NOT NULL DEFAULT 'Download',
    "analyze" boolean NOT NULL DEFAULT true,
    "load" boolean NOT NULL DEFAULT true,
    record_count bigint,
    url text,
    comments text,
    CONSTRAINT source_tables_run_table UNIQUE (run_id, table_name),
    CONSTRAINT source_tables_run_file UNIQUE (run_id, file_id)
)`,
	},
	{
		Name:      "source_table_columns",
		Kind:      ObjectKindTable,
		DependsOn: []string{"source_tables"},
		DDL: `CREATE TABLE IF NOT EXISTS source_table_columns (
    stc_oid bigint GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
    st_oid bigint NOT NULL REFERENCES source_tables(st_oid) ON DELETE CASCADE,
    name varchar(60) NOT NULL,
    type varchar(60) NOT NULL,
    max_length integer NOT NULL,
    min_length integer NOT NULL,
    label varchar(500),
    column_index integer NOT NULL,
    CONSTRAINT source_table_columns_st_name UNIQUE (st_oid, name)
)`,
	},
	{
		Name:      "pipeline_jobs",
		Kind:      ObjectKindTable,
		DependsOn: []string{"pipeline_run_tasks"},
		DDL: `CREATE TABLE IF NOT EXISTS pipeline_jobs (
    job_id bigint GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
    pr_task_id bigint NOT NULL REFERENCES pipeline_run_tasks(pr_task_id) ON DELETE CASCADE,
    run_id bigint NOT NULL,
    task_class varchar(100) NOT NULL,
    run_next boolean NOT NULL DEFAULT false,
    scheduled_at timestamptz NOT NULL DEFAULT now(),
    attempt_count integer NOT NULL DEFAULT 0,
    lease_holder varchar(255),
    lease_expires timestamptz
)`,
	},
	{
		Name:      "pipeline_jobs_ready",
		Kind:      ObjectKindIndex,
		DependsOn: []string{"pipeline_jobs"},
		DDL:       `CREATE INDEX IF NOT EXISTS pipeline_jobs_ready ON pipeline_jobs (scheduled_at) WHERE lease_expires IS NULL`,
	},
	{
		Name:      "notify_pipeline_run_tasks",
		Kind:      ObjectKindFunction,
		DependsOn: []string{"pipeline_run_tasks"},
		DDL: `CREATE OR REPLACE FUNCTION notify_pipeline_run_tasks() RETURNS trigger AS $$
BEGIN
    PERFORM pg_notify('pipeline_run_tasks', COALESCE(NEW.run_id, OLD.run_id)::text);
    RETURN COALESCE(NEW, OLD);
END;
$$ LANGUAGE plpgsql`,
	},
	{
		Name:      "pipeline_run_tasks_notify",
		Kind:      ObjectKindTrigger,
		DependsOn: []string{"notify_pipeline_run_tasks", "pipeline_run_tasks"},
		DDL: `DO $$ BEGIN
    IF NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'pipeline_run_tasks_notify') THEN
        CREATE TRIGGER pipeline_run_tasks_notify
        AFTER INSERT OR UPDATE OR DELETE ON pipeline_run_tasks
        FOR EACH ROW EXECUTE FUNCTION notify_pipeline_run_tasks();
    END IF;
END $$`,
	},
}
